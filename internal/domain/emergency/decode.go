package emergency

import (
	"encoding/json"
	"fmt"

	"github.com/docai/escalation/pkg/wire"
)

const entity = "Emergency"

// DecodeEmergency decodes and validates a single case.
func DecodeEmergency(data []byte) (*Emergency, error) {
	var e Emergency
	if err := wire.Unmarshal(entity, data, &e); err != nil {
		return nil, err
	}
	if err := validateDecoded(&e, ""); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeEmergencyEnvelope decodes a {"emergency": {...}} response.
func DecodeEmergencyEnvelope(data []byte) (*Emergency, error) {
	var env struct {
		Emergency json.RawMessage `json:"emergency"`
	}
	if err := wire.Unmarshal(entity, data, &env); err != nil {
		return nil, err
	}
	if len(env.Emergency) == 0 || string(env.Emergency) == "null" {
		return nil, wire.Missing(entity, "emergency")
	}
	return DecodeEmergency(env.Emergency)
}

// DecodeEmergencyList decodes a {"emergencies": [...]} response. A missing
// list decodes as empty.
func DecodeEmergencyList(data []byte) ([]*Emergency, error) {
	var env struct {
		Emergencies []*Emergency `json:"emergencies"`
	}
	if err := wire.Unmarshal(entity, data, &env); err != nil {
		return nil, err
	}
	out := make([]*Emergency, 0, len(env.Emergencies))
	for i, e := range env.Emergencies {
		if e == nil {
			return nil, wire.Invalid(entity, fmt.Sprintf("emergencies[%d]", i), "null entry")
		}
		if err := validateDecoded(e, fmt.Sprintf("emergencies[%d].", i)); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func validateDecoded(e *Emergency, prefix string) error {
	switch {
	case e.ID == "":
		return wire.Missing(entity, prefix+"id")
	case !e.Status.Valid():
		return wire.Invalid(entity, prefix+"status", "unknown status %q", e.Status)
	case e.Severity != "" && !e.Severity.Valid():
		return wire.Invalid(entity, prefix+"severity", "unknown severity %q", e.Severity)
	case e.Status == StatusNew && e.DoctorID != "":
		return wire.Invalid(entity, prefix+"doctorId", "set on a NEW case")
	}
	if e.Severity == "" {
		e.Severity = SeverityFor(e.RiskScore)
	}
	return nil
}
