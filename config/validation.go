// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// size: a byte count humanize can parse.
	if err := validate.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		_, err := parseSize(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
}

// Validate validates the configuration using struct tags and custom rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	s, err := cfg.Image.Sizes()
	if err != nil {
		return err
	}
	if s.Initial == 0 {
		return fmt.Errorf("image.initial_size: must not be zero")
	}
	if s.Step == 0 {
		return fmt.Errorf("image.step_size: must not be zero")
	}
	if s.Max != 0 && s.Max < s.Initial {
		return fmt.Errorf("image.max_size: %s is less than image.initial_size %s", cfg.Image.MaxSize, cfg.Image.InitialSize)
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
