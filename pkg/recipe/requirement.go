package recipe

import (
	"strings"

	"github.com/pkg/errors"
)

// Requirement pins an upstream package as name/version@user/channel. The
// user/channel part is optional.
type Requirement struct {
	Name    string
	Version string
	User    string
	Channel string
}

func ParseRequirement(ref string) (Requirement, error) {
	var r Requirement

	ref = strings.TrimSpace(ref)

	if strings.ContainsAny(ref, " \t") {
		return r, errors.Wrapf(ErrBadRequirement, "%q contains whitespace", ref)
	}

	pkg := ref

	if at := strings.IndexByte(ref, '@'); at != -1 {
		pkg = ref[:at]

		uc := strings.Split(ref[at+1:], "/")
		if len(uc) != 2 || uc[0] == "" || uc[1] == "" {
			return r, errors.Wrapf(ErrBadRequirement, "%q: expected @user/channel", ref)
		}

		r.User, r.Channel = uc[0], uc[1]
	}

	nv := strings.Split(pkg, "/")
	if len(nv) != 2 || nv[0] == "" || nv[1] == "" {
		return r, errors.Wrapf(ErrBadRequirement, "%q: expected name/version", ref)
	}

	r.Name, r.Version = nv[0], nv[1]

	return r, nil
}

func mustRequirement(ref string) Requirement {
	r, err := ParseRequirement(ref)
	if err != nil {
		panic(err)
	}

	return r
}

func (r Requirement) String() string {
	s := r.Name + "/" + r.Version

	if r.User != "" {
		s += "@" + r.User + "/" + r.Channel
	}

	return s
}
