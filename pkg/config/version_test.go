package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidVersion(t *testing.T) {
	accepted := []string{
		"1.0.0",
		"1.0.0-alpha",
		"1.0.0+build",
		"1.0.0.1",
		"10.20.30",
	}

	for _, v := range accepted {
		assert.True(t, ValidVersion(v), "expected %q to be accepted", v)
	}

	rejected := []string{
		"1.0",
		"*",
		"2024.*",
		"abc.def.ghi",
		"",
		"1..0",
		"1.0.x",
	}

	for _, v := range rejected {
		assert.False(t, ValidVersion(v), "expected %q to be rejected", v)
	}
}
