package recipe

import "github.com/pkg/errors"

var (
	ErrUnknownSetting  = errors.New("unknown setting")
	ErrBadSettingValue = errors.New("invalid setting value")
	ErrUnknownOption   = errors.New("unknown option")
	ErrBadOptionValue  = errors.New("invalid option value")
	ErrBadRequirement  = errors.New("malformed requirement")
	ErrInvalidRecipe   = errors.New("invalid recipe")
)
