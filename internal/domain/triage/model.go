package triage

import (
	"fmt"

	"github.com/docai/escalation/pkg/wire"
)

// Locale identifies one of the supported input languages.
type Locale string

const (
	LocaleEnglish   Locale = "en"
	LocaleHindi     Locale = "hi"
	LocaleTelugu    Locale = "te"
	LocaleTamil     Locale = "ta"
	LocaleKannada   Locale = "kn"
	LocaleMalayalam Locale = "ml"
)

// SupportedLocales lists every accepted locale in display order.
var SupportedLocales = []Locale{
	LocaleEnglish, LocaleHindi, LocaleTelugu, LocaleTamil, LocaleKannada, LocaleMalayalam,
}

// SpeechTag returns the BCP-47 tag used by speech recognisers for the locale.
func (l Locale) SpeechTag() string {
	switch l {
	case LocaleHindi:
		return "hi-IN"
	case LocaleTelugu:
		return "te-IN"
	case LocaleTamil:
		return "ta-IN"
	case LocaleKannada:
		return "kn-IN"
	case LocaleMalayalam:
		return "ml-IN"
	default:
		return "en-US"
	}
}

// Valid reports whether l is a supported locale.
func (l Locale) Valid() bool {
	for _, s := range SupportedLocales {
		if s == l {
			return true
		}
	}
	return false
}

// SymptomText is raw patient input with its language tag.
type SymptomText struct {
	Text     string `json:"text"`
	Language Locale `json:"language"`
}

// DecodeSymptomText decodes and validates a SymptomText payload. A missing
// language defaults to English; an unknown one is rejected.
func DecodeSymptomText(data []byte) (SymptomText, error) {
	var st SymptomText
	if err := wire.Unmarshal("SymptomText", data, &st); err != nil {
		return SymptomText{}, err
	}
	if st.Language == "" {
		st.Language = LocaleEnglish
	}
	if !st.Language.Valid() {
		return SymptomText{}, wire.Invalid("SymptomText", "language", "unsupported locale %q", st.Language)
	}
	return st, nil
}

// MaxDisplayReasons caps the reasons shown to a patient.
const MaxDisplayReasons = 3

// RiskAssessment is the immutable outcome of scoring one input.
type RiskAssessment struct {
	IsEmergency bool     `json:"isEmergency"`
	Risk        int      `json:"risk"`
	Reasons     []string `json:"reasons"`
}

// DisplayReasons returns at most MaxDisplayReasons reasons.
func (a RiskAssessment) DisplayReasons() []string {
	if len(a.Reasons) <= MaxDisplayReasons {
		return append([]string(nil), a.Reasons...)
	}
	return append([]string(nil), a.Reasons[:MaxDisplayReasons]...)
}

func (a RiskAssessment) clone() RiskAssessment {
	a.Reasons = append([]string{}, a.Reasons...)
	return a
}

// DecodeRiskAssessment decodes a stored report and checks the risk range.
func DecodeRiskAssessment(data []byte) (RiskAssessment, error) {
	var raw struct {
		IsEmergency *bool    `json:"isEmergency"`
		Risk        *int     `json:"risk"`
		Reasons     []string `json:"reasons"`
	}
	if err := wire.Unmarshal("RiskAssessment", data, &raw); err != nil {
		return RiskAssessment{}, err
	}
	if raw.IsEmergency == nil {
		return RiskAssessment{}, wire.Missing("RiskAssessment", "isEmergency")
	}
	if raw.Risk == nil {
		return RiskAssessment{}, wire.Missing("RiskAssessment", "risk")
	}
	if *raw.Risk < 0 || *raw.Risk > 100 {
		return RiskAssessment{}, wire.Invalid("RiskAssessment", "risk", "%d outside [0,100]", *raw.Risk)
	}
	reasons := raw.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return RiskAssessment{IsEmergency: *raw.IsEmergency, Risk: *raw.Risk, Reasons: reasons}, nil
}

func (a RiskAssessment) String() string {
	return fmt.Sprintf("risk=%d emergency=%t reasons=%d", a.Risk, a.IsEmergency, len(a.Reasons))
}
