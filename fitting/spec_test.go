package fitting_test

import (
	"github.com/TimTheToolman/riak-pipe/fitting"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(SpecValidationSuite))

type SpecValidationSuite struct{}

func (s *SpecValidationSuite) TestValidSpec(c *gc.C) {
	err := fitting.ValidateSpec(fitting.Spec{
		Name:    "pass",
		Module:  "test/pass",
		Partfun: fitting.Follow,
	})
	c.Assert(err, gc.IsNil)

	err = fitting.ValidateSpec(fitting.Spec{
		Name:   "pass",
		Module: "test/pass",
		Partfun: fitting.PartitionBy(func(interface{}) fitting.Partition {
			return 0
		}),
	})
	c.Assert(err, gc.IsNil)
}

func (s *SpecValidationSuite) TestUnknownModule(c *gc.C) {
	err := fitting.ValidateSpec(fitting.Spec{
		Name:    "mystery",
		Module:  "test/not-registered",
		Partfun: fitting.Follow,
	})
	c.Assert(err, gc.ErrorMatches, `(?s).*module "test/not-registered" is not registered.*`)

	var badSpec *fitting.BadSpecError
	c.Assert(xerrors.As(err, &badSpec), gc.Equals, true)
	c.Assert(badSpec.Name, gc.Equals, "mystery")
}

func (s *SpecValidationSuite) TestMissingNameAndPartfun(c *gc.C) {
	err := fitting.ValidateSpec(fitting.Spec{Module: "test/pass"})
	c.Assert(err, gc.ErrorMatches, "(?s).*fitting name not specified.*")
	c.Assert(err, gc.ErrorMatches, "(?s).*partfun not specified.*")
}

func (s *SpecValidationSuite) TestArgRejected(c *gc.C) {
	err := fitting.ValidateSpec(fitting.Spec{
		Name:    "picky",
		Module:  "test/badarg",
		Arg:     42,
		Partfun: fitting.Follow,
	})
	c.Assert(err, gc.ErrorMatches, `(?s).*module "test/badarg" rejected arg: unsupported arg 42.*`)
}

func (s *SpecValidationSuite) TestArgValidatorPanics(c *gc.C) {
	err := fitting.ValidateSpec(fitting.Spec{
		Name:    "volatile",
		Module:  "test/panicarg",
		Partfun: fitting.Follow,
	})
	c.Assert(err, gc.ErrorMatches, "(?s).*rejected arg: arg exploded.*")
}

func (s *SpecValidationSuite) TestPartfunHelpers(c *gc.C) {
	c.Assert(fitting.Follow.IsFollow(), gc.Equals, true)
	c.Assert(fitting.Follow.IsValid(), gc.Equals, true)

	var zero fitting.Partfun
	c.Assert(zero.IsValid(), gc.Equals, false)

	pf := fitting.PartitionBy(func(output interface{}) fitting.Partition {
		return fitting.Partition(output.(int) % 4)
	})
	p, err := pf.Partition(6)
	c.Assert(err, gc.IsNil)
	c.Assert(p, gc.Equals, fitting.Partition(2))

	_, err = fitting.Follow.Partition(6)
	c.Assert(err, gc.NotNil)
}
