//go:build noprom

package metrics

import "errors"

func enablePrometheus(string) error {
	return errors.New("metrics: binary built with -tags noprom")
}
