package telemetry

import (
	"codefolio-backend/internal/components/assert"
	"fmt"
)

// API is how components report on themselves. Going through an interface lets
// tests assert that a failure was actually reported, see Recorder.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that failed in a way somebody should look at.
	//
	// `id` names the component, not the line that failed: when the codeforces
	// extractor cannot decode `user.status` the id is `extractor.extract`, and the
	// decode error goes in params. Ids are lowercase, underscores separate words of
	// a component and a dot separates the component from its method. The
	// `report_*` constants in each package are the ids in use.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unusual that is not necessarily broken, a
	// platform answering 429 for example. Ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug is dropped outside of verbose runs.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the value of a counter at this point in time. Values are
	// samples, do not sum them.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, usually the package name.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	assert.NotEmptyStr(namespace)
	assert.NotNil(inner)
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}

// KV is a named param, SlogAPI logs it under its key.
type KV struct {
	Key   string
	Value any
}

func (kv KV) String() string {
	return fmt.Sprintf("%s=%v", kv.Key, kv.Value)
}
