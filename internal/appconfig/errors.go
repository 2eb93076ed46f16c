package appconfig

import (
	"errors"
	"fmt"
)

var ErrMissingConfig = errors.New("missing configuration value")

type MissingConfigError struct {
	ConfigName string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing %s configuration value", e.ConfigName)
}

func (e *MissingConfigError) Is(target error) bool {
	return target == ErrMissingConfig
}
