package triage

import (
	"sort"
	"strings"
)

// DefaultEmergencyThreshold is the risk at or above which an assessment is
// an emergency.
const DefaultEmergencyThreshold = 70

// Signal is one weighted entry of the symptom model. A signal contributes its
// weight at most once, when any of its phrases occurs in the normalized text.
type Signal struct {
	ID      string
	Phrases []string
	Weight  int
	Reason  string
}

// Model is an ordered set of signals. Order breaks ties between equally
// weighted reasons.
type Model []Signal

// Assessor scores normalized symptom text against a Model.
type Assessor struct {
	model     Model
	threshold int
}

// NewAssessor builds an Assessor. Phrases are normalized up front so callers
// can write them naturally. A non-positive threshold selects the default.
func NewAssessor(model Model, threshold int) *Assessor {
	if threshold <= 0 {
		threshold = DefaultEmergencyThreshold
	}
	normalized := make(Model, 0, len(model))
	for _, s := range model {
		phrases := make([]string, 0, len(s.Phrases))
		for _, p := range s.Phrases {
			if np := Normalize(p); np != "" {
				phrases = append(phrases, np)
			}
		}
		s.Phrases = phrases
		normalized = append(normalized, s)
	}
	return &Assessor{model: normalized, threshold: threshold}
}

// Threshold returns the emergency threshold in use.
func (a *Assessor) Threshold() int { return a.threshold }

// Matches returns the signals present in text, strongest first.
func (a *Assessor) Matches(text string) []Signal {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	var matched []Signal
	for _, s := range a.model {
		for _, p := range s.Phrases {
			if strings.Contains(text, p) {
				matched = append(matched, s)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Weight > matched[j].Weight
	})
	return matched
}

// Assess scores text. Raw or already-normalized input gives the same result.
func (a *Assessor) Assess(text string) RiskAssessment {
	matched := a.Matches(text)
	risk := 0
	reasons := make([]string, 0, len(matched))
	for _, s := range matched {
		risk += s.Weight
		if s.Reason != "" {
			reasons = append(reasons, s.Reason)
		}
	}
	if risk > 100 {
		risk = 100
	}
	if risk < 0 {
		risk = 0
	}
	return RiskAssessment{
		IsEmergency: risk >= a.threshold,
		Risk:        risk,
		Reasons:     reasons,
	}
}

// DefaultModel is the built-in symptom model. Every signal carries phrases
// for each supported locale.
func DefaultModel() Model {
	return Model{
		{
			ID:     "stroke",
			Weight: 75,
			Reason: "Possible stroke symptoms need emergency care",
			Phrases: []string{
				"stroke", "face drooping", "slurred speech", "one side weak", "paralysis",
				"लकवा", "పక్షవాతం", "பக்கவாதம்", "ಪಾರ್ಶ್ವವಾಯು", "പക്ഷാഘാതം",
			},
		},
		{
			ID:     "unconscious",
			Weight: 70,
			Reason: "Loss of consciousness is a medical emergency",
			Phrases: []string{
				"unconscious", "fainted", "passed out", "not responding",
				"बेहोश", "స్పృహ కోల్పోయారు", "மயக்கம்", "ಪ್ರಜ್ಞೆ ತಪ್ಪಿದೆ", "ബോധം പോയി",
			},
		},
		{
			ID:     "bleeding",
			Weight: 70,
			Reason: "Heavy bleeding requires immediate care",
			Phrases: []string{
				"severe bleeding", "heavy bleeding", "bleeding heavily", "won't stop bleeding",
				"बहुत खून", "తీవ్ర రక్తస్రావం", "அதிக இரத்தப்போக்கு", "ತೀವ್ರ ರಕ್ತಸ್ರಾವ", "കഠിനമായ രക്തസ്രാവം",
			},
		},
		{
			ID:     "seizure",
			Weight: 60,
			Reason: "Seizures need urgent evaluation",
			Phrases: []string{
				"seizure", "convulsion",
				"दौरा", "మూర్ఛ", "வலிப்பு", "ಮೂರ್ಛೆ", "അപസ്മാരം",
			},
		},
		{
			ID:     "chest-discomfort",
			Weight: 50,
			Reason: "Chest tightness or pressure may be cardiac",
			Phrases: []string{
				"chest tightness", "tight chest", "chest pressure", "pressure in my chest",
				"सीने में जकड़न", "ఛాతీ బిగుతు", "நெஞ்சு இறுக்கம்", "ಎದೆ ಬಿಗಿತ", "നെഞ്ചിൽ ഭാരം",
			},
		},
		{
			ID:     "breathing",
			Weight: 45,
			Reason: "Breathing difficulty needs urgent assessment",
			Phrases: []string{
				"difficulty breathing", "shortness of breath", "can't breathe", "not breathing", "breathless",
				"सांस लेने में तकलीफ", "ఊపిరి ఆడటం లేదు", "மூச்சு திணறல்", "ಉಸಿರಾಟದ ತೊಂದರೆ", "ശ്വാസം മുട്ടൽ",
			},
		},
		{
			ID:     "dizziness",
			Weight: 20,
			Reason: "Dizziness reported",
			Phrases: []string{
				"dizzy", "dizziness", "lightheaded", "light headed",
				"चक्कर", "తల తిరుగుతోంది", "தலைச்சுற்றல்", "ತಲೆ ಸುತ್ತು", "തലകറക്കം",
			},
		},
		{
			ID:     "severity",
			Weight: 15,
			Reason: "Symptoms described as severe",
			Phrases: []string{
				"severe", "unbearable", "extreme", "worst",
				"बहुत तेज", "తీవ్రమైన", "கடுமையான", "ತೀವ್ರ", "കഠിനമായ",
			},
		},
		{
			ID:     "fever",
			Weight: 15,
			Reason: "Fever reported",
			Phrases: []string{
				"fever", "high temperature",
				"बुखार", "జ్వరం", "காய்ச்சல்", "ಜ್ವರ", "പനി",
			},
		},
		{
			ID:     "vomiting",
			Weight: 15,
			Reason: "Vomiting reported",
			Phrases: []string{
				"vomiting", "throwing up",
				"उल्टी", "వాంతులు", "வாந்தி", "ವಾಂತಿ", "ഛർദ്ദി",
			},
		},
		{
			ID:     "headache",
			Weight: 10,
			Reason: "Headache reported",
			Phrases: []string{
				"headache", "head ache", "migraine",
				"सिरदर्द", "सिर दर्द", "తలనొప్పి", "தலைவலி", "ತಲೆನೋವು", "തലവേദന",
			},
		},
	}
}
