package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validOptions() Options {
	return Options{
		Dbpath:             "repo.sqlite",
		Blocksize:          100 * 1024 * 1024,
		BlockhashSize:      32,
		BlockHashAlgorithm: "sha256",
		IndexfilePolicy:    IndexfilePolicyFull,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	opt := validOptions()
	assert.NoError(t, opt.Validate())
}

func TestValidateRejectsPassphraseChange(t *testing.T) {
	opt := validOptions()
	opt.AllowPassphraseChange = true
	assert.ErrorIs(t, opt.Validate(), errAllowPassphraseChange)
}

func TestValidateRejectsNonPositiveBlocksize(t *testing.T) {
	opt := validOptions()
	opt.Blocksize = 0
	assert.ErrorIs(t, opt.Validate(), errBlocksize)
}

func TestValidateRejectsNonPositiveBlockhashSize(t *testing.T) {
	opt := validOptions()
	opt.BlockhashSize = -1
	assert.ErrorIs(t, opt.Validate(), errBlockhashSize)
}

func TestValidateRejectsEmptyHashAlgorithm(t *testing.T) {
	opt := validOptions()
	opt.BlockHashAlgorithm = ""
	assert.ErrorIs(t, opt.Validate(), errBlockHashAlgorithm)
}

func TestValidateRejectsUnknownIndexfilePolicy(t *testing.T) {
	opt := validOptions()
	opt.IndexfilePolicy = "bogus"
	assert.ErrorIs(t, opt.Validate(), errIndexfilePolicy)
}

func TestValidateAcceptsEveryIndexfilePolicy(t *testing.T) {
	for _, p := range []IndexfilePolicy{IndexfilePolicyNone, IndexfilePolicyLookup, IndexfilePolicyFull} {
		opt := validOptions()
		opt.IndexfilePolicy = p
		assert.NoError(t, opt.Validate())
	}
}
