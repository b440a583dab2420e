package wire

import "errors"

// joinErrors returns nil for an empty slice and errors.Join otherwise, so
// config validation reports every violation in one multi-line error rather
// than stopping at the first, per spec.md §7's "multi-line operator-oriented
// log" requirement.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
