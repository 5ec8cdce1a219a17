package fitting

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

// ValidateSpec checks that a fitting spec can back a pipeline stage: its
// module id must resolve to a registered module, the module must accept the
// spec's Arg if it implements ArgValidator, and the partfun must be one of
// the supported routing modes. Validation failures are reported as a
// BadSpecError and are never retried.
func ValidateSpec(spec Spec) error {
	var err error
	if spec.Name == "" {
		err = multierror.Append(err, xerrors.New("fitting name not specified"))
	}
	m, known := Lookup(spec.Module)
	if !known {
		err = multierror.Append(err, xerrors.Errorf("module %q is not registered", spec.Module))
	}
	if known {
		if vErr := validateArg(m, spec.Arg); vErr != nil {
			err = multierror.Append(err, xerrors.Errorf("module %q rejected arg: %w", spec.Module, vErr))
		}
	}
	if !spec.Partfun.IsValid() {
		err = multierror.Append(err, xerrors.New("partfun not specified"))
	} else if spec.Partfun.IsSink() {
		err = multierror.Append(err, xerrors.New("partfun must be Follow or a partition selector"))
	}

	if err != nil {
		return &BadSpecError{Name: spec.Name, Reason: err}
	}
	return nil
}

// validateArg invokes the module's ValidateArg capability if it exports one,
// converting panics into printable validation failures.
func validateArg(m Module, arg interface{}) (err error) {
	av, ok := m.(ArgValidator)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(fmt.Sprint(r))
		}
	}()
	return av.ValidateArg(arg)
}
