package lib

import "fmt"

// WrapError attaches child as a detail of parent. Both remain matchable with errors.Is
func WrapError(parent error, child error) error {
	return fmt.Errorf("%w: %w", parent, child)
}
