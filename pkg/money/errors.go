package money

import "errors"

var ErrTooPrecise = errors.New("amount_too_precise")
