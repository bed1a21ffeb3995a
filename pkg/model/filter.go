package model

// FilterOp is a comparison applied to one source field.
type FilterOp string

const (
	OpEq       FilterOp = "=="
	OpNe       FilterOp = "!="
	OpGt       FilterOp = ">"
	OpGte      FilterOp = ">="
	OpLt       FilterOp = "<"
	OpLte      FilterOp = "<="
	OpIn       FilterOp = "in"       // field value is one of Value
	OpContains FilterOp = "contains" // array field holds Value
	OpExists   FilterOp = "exists"   // field is present, Value is ignored
)

// IsValid checks if the operator is known.
func (op FilterOp) IsValid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpExists:
		return true
	}
	return false
}

// Filters are combined with AND.
type Filters []Filter

// Filter matches documents whose dotted Field satisfies Op against Value.
type Filter struct {
	Field string   `json:"field" yaml:"field"`
	Op    FilterOp `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate reports malformed filters.
func (f Filter) Validate() error {
	if f.Field == "" {
		return Validationf("filter field is missing")
	}
	if !f.Op.IsValid() {
		return Validationf("unknown filter operator [%s] on field [%s]", f.Op, f.Field)
	}
	if f.Op == OpIn {
		if _, ok := f.Value.([]any); !ok {
			return Validationf("filter operator [in] on field [%s] requires an array value", f.Field)
		}
	}
	return nil
}

// Validate checks every filter.
func (fs Filters) Validate() error {
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}
