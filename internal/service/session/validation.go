package session

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sharetube/watchsync/internal/domain"
)

var SessionIdRule = []validation.Rule{
	validation.Required,
	is.UUIDv4,
}

var UserIdRule = []validation.Rule{
	validation.Required,
	validation.Length(1, 64),
	validation.Match(regexp.MustCompile("^[a-zA-Z0-9_.-]+$")),
}

var UsernameRule = []validation.Rule{
	validation.Required,
	validation.Length(1, 32),
}

var OptionalUserIdRule = []validation.Rule{
	validation.Length(0, 64),
	validation.Match(regexp.MustCompile("^[a-zA-Z0-9_.-]+$")),
}

var CurrentTimeRule = []validation.Rule{
	validation.Min(0.0),
}

var PlaybackRateRule = []validation.Rule{
	validation.Min(0.0),
	validation.Max(16.0),
}

var QualityRule = []validation.Rule{
	validation.Required,
	validation.In(domain.QualityGood, domain.QualityFair, domain.QualityPoor),
}

var StatusRule = []validation.Rule{
	validation.In(domain.StatusActive, domain.StatusInactive, domain.StatusAway),
}
