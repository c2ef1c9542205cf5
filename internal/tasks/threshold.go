package tasks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jamesprial/readings/internal/usage"
)

// Comparator is the relational operator of a threshold.
type Comparator string

const (
	OpGreaterEqual Comparator = ">="
	OpGreater      Comparator = ">"
	OpLessEqual    Comparator = "<="
	OpLess         Comparator = "<"
	OpEqual        Comparator = "=="
	OpNotEqual     Comparator = "!="
)

// Compare applies the operator to value and limit.
func (c Comparator) Compare(value, limit float64) bool {
	switch c {
	case OpGreaterEqual:
		return value >= limit
	case OpGreater:
		return value > limit
	case OpLessEqual:
		return value <= limit
	case OpLess:
		return value < limit
	case OpEqual:
		return value == limit
	case OpNotEqual:
		return value != limit
	default:
		return false
	}
}

// Threshold is a parsed threshold expression such as "cpu >= 90" or
// "memory > 3GiB".
type Threshold struct {
	Resource usage.ResourceType
	Op       Comparator
	// Limit is a percentage for CPU and a byte count for memory and disk.
	Limit float64
	Raw   string
}

// thresholdPattern: resource, operator, number, optional unit.
var thresholdPattern = regexp.MustCompile(`^\s*([A-Za-z]+)\s*(>=|<=|==|!=|>|<|=)\s*([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z%]*)\s*$`)

// ParseThreshold parses expr. A bare "=" is accepted as "==". CPU limits are
// percentages and accept an optional "%"; memory and disk limits are bytes
// and accept size units such as MB, GiB or TB.
func ParseThreshold(expr string) (Threshold, error) {
	m := thresholdPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("%w: %q is not of the form \"<resource> <op> <value>\"", ErrInvalidThreshold, expr)
	}

	resource, err := usage.ParseResourceType(m[1])
	if err != nil {
		return Threshold{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
	}

	op := Comparator(m[2])
	if op == "=" {
		op = OpEqual
	}

	number, unit := m[3], m[4]
	var limit float64
	switch resource {
	case usage.CPU:
		if unit != "" && unit != "%" {
			return Threshold{}, fmt.Errorf("%w: cpu threshold %q must be a percentage", ErrInvalidThreshold, expr)
		}
		limit, err = strconv.ParseFloat(number, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
		}
	default:
		if unit == "%" {
			return Threshold{}, fmt.Errorf("%w: %s threshold %q must be a size, not a percentage", ErrInvalidThreshold, resource, expr)
		}
		bytes, err := humanize.ParseBytes(number + unit)
		if err != nil {
			return Threshold{}, fmt.Errorf("%w: %s threshold %q: %v", ErrInvalidThreshold, resource, expr, err)
		}
		limit = float64(bytes)
	}

	return Threshold{
		Resource: resource,
		Op:       op,
		Limit:    limit,
		Raw:      strings.TrimSpace(expr),
	}, nil
}

// Evaluate resolves the threshold's resource from snap and compares it with
// the limit. It returns the observed value alongside the result.
func (t Threshold) Evaluate(snap usage.Snapshot) (bool, float64) {
	value, ok := snap.Value(t.Resource)
	if !ok {
		return false, 0
	}
	return t.Op.Compare(value, t.Limit), value
}

// String returns the expression as written in the configuration, or a
// normalised form when the threshold was built in code.
func (t Threshold) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	if t.Resource == usage.CPU {
		return fmt.Sprintf("%s %s %g", t.Resource, t.Op, t.Limit)
	}
	return fmt.Sprintf("%s %s %s", t.Resource, t.Op, humanize.IBytes(uint64(t.Limit)))
}
