package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateShape_OK(t *testing.T) {
	errs := ValidateShape(map[string]interface{}{"a": 1, "b": "two"})
	assert.Empty(t, errs)
}

func TestValidateShape_TooManyKeys(t *testing.T) {
	cfg := make(map[string]interface{}, MaxConfigObjectKeys+1)
	for i := 0; i < MaxConfigObjectKeys+1; i++ {
		cfg[string(rune('a'+i%26))+string(rune(i))] = i
	}
	errs := ValidateShape(cfg)
	assert.NotEmpty(t, errs)
}

func TestValidateShape_TooDeep(t *testing.T) {
	var nested interface{} = map[string]interface{}{"leaf": 1}
	for i := 0; i < MaxConfigDepth+2; i++ {
		nested = map[string]interface{}{"n": nested}
	}
	errs := ValidateShape(map[string]interface{}{"root": nested})
	assert.NotEmpty(t, errs)
}
