package config

import "errors"

var (
	errAllowPassphraseChange = errors.New("config: AllowPassphraseChange is not supported by the repair engine")
	errBlocksize             = errors.New("config: Blocksize must be positive")
	errBlockhashSize         = errors.New("config: BlockhashSize must be positive")
	errBlockHashAlgorithm    = errors.New("config: BlockHashAlgorithm must be set")
	errIndexfilePolicy       = errors.New("config: IndexfilePolicy must be one of none, lookup, full")
)
