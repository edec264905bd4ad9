package usecase

// Recorder receives outcome counts. The metrics package provides the Prometheus
// implementation.
type Recorder interface {
	ObserveVerification(outcome string)
	ObserveFaceIDLookup(result string)
	ObserveRegistration(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVerification(string) {}
func (nopRecorder) ObserveFaceIDLookup(string) {}
func (nopRecorder) ObserveRegistration(string) {}
