package filter

import (
	"github.com/banshee-data/csistudio/internal/csi"
)

// Stub is an in-process Filter driven by Go callbacks. It records lifecycle
// calls so tests can assert on them. Only keys present in Params can be set.
type Stub struct {
	FilterName        string
	FilterDescription string
	List              string
	Params            map[string]string
	RunFunc           func(rec *csi.Record)

	Calls  []string
	Closed bool
}

func (s *Stub) Name() string        { return s.FilterName }
func (s *Stub) Description() string { return s.FilterDescription }
func (s *Stub) ParameterList() string {
	return s.List
}

func (s *Stub) Parameter(name string) string {
	return s.Params[name]
}

func (s *Stub) SetParameter(name, value string) {
	if _, ok := s.Params[name]; ok {
		s.Params[name] = value
	}
}

func (s *Stub) Run(rec *csi.Record) {
	s.Calls = append(s.Calls, "run")
	if s.RunFunc != nil {
		s.RunFunc(rec)
	}
}

func (s *Stub) Init()     { s.Calls = append(s.Calls, "init") }
func (s *Stub) Finalize() { s.Calls = append(s.Calls, "finalize") }
func (s *Stub) Reset()    { s.Calls = append(s.Calls, "reset") }

func (s *Stub) Close() error {
	s.Closed = true
	return nil
}
