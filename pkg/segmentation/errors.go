package segmentation

import "fmt"

// ShapeError reports an input volume the pipeline cannot segment: nil,
// empty, not matching its superpixel map, or carrying unassigned voxels.
// Shape errors are fatal for the affected volume; no partial result is
// produced.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid input shape: %s", e.Reason)
}

// ConfigError reports a parameter outside its stated domain. The
// configuration is rejected before any computation starts.
type ConfigError struct {
	Param  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v (%s)", e.Param, e.Value, e.Reason)
}
