package scoring

// Dimension names one qualification axis.
type Dimension string

const (
	Background       Dimension = "background"
	Motivation       Dimension = "motivation"
	CostOfStatusQuo  Dimension = "cost_of_status_quo"
	Hesitation       Dimension = "hesitation"
	SuccessGoal      Dimension = "success_goal"
	TimeAvailability Dimension = "time_availability"
	Investment       Dimension = "investment"
	Readiness        Dimension = "readiness"
)

// Dimensions lists every dimension in scoring order.
var Dimensions = []Dimension{
	Background, Motivation, CostOfStatusQuo, Hesitation,
	SuccessGoal, TimeAvailability, Investment, Readiness,
}

// contributions holds the canonical vocabulary only.
var contributions = map[Dimension]map[string]int{
	Background: {
		"licensed-clinician":  20,
		"coach-or-consultant": 15,
		"career-changer":      10,
		"exploring":           5,
	},
	Motivation: {
		"build-practice":    20,
		"add-income-stream": 15,
		"personal-growth":   5,
	},
	CostOfStatusQuo: {
		"burnout":        20,
		"income-ceiling": 15,
		"unfulfilled":    10,
		"none":           0,
	},
	Hesitation: {
		"none":       15,
		"timing":     10,
		"confidence": 8,
		"money":      3,
	},
	SuccessGoal: {
		"full-practice":      25,
		"part-time-practice": 15,
		"certification-only": 5,
	},
	TimeAvailability: {
		"10-plus-hours": 15,
		"5-10-hours":    10,
		"under-5-hours": 3,
	},
	Investment: {
		"5k-plus":  30,
		"2k-5k":    20,
		"1k-2k":    10,
		"under-1k": 0,
	},
	Readiness: {
		"immediately":      25,
		"within-30-days":   15,
		"within-90-days":   8,
		"just-researching": 0,
	},
}

// valueAliases maps legacy answers onto the canonical vocabulary.
var valueAliases = map[Dimension]map[string]string{
	Background: {
		"healthcare-professional": "licensed-clinician",
		"clinician":               "licensed-clinician",
		"coach":                   "coach-or-consultant",
		"consultant":              "coach-or-consultant",
		"new-career":              "career-changer",
		"curious":                 "exploring",
	},
	Motivation: {
		"start-business": "build-practice",
		"side-income":    "add-income-stream",
		"self-growth":    "personal-growth",
	},
	CostOfStatusQuo: {
		"exhausted":     "burnout",
		"capped-income": "income-ceiling",
		"stuck":         "unfulfilled",
	},
	Hesitation: {
		"ready-now":      "none",
		"bad-timing":     "timing",
		"not-sure-i-can": "confidence",
		"cost":           "money",
	},
	SuccessGoal: {
		"scale-business-10k-plus": "full-practice",
		"side-business-2k-5k":     "part-time-practice",
		"just-certified":          "certification-only",
	},
	TimeAvailability: {
		"full-time": "10-plus-hours",
		"part-time": "5-10-hours",
		"minimal":   "under-5-hours",
	},
	Investment: {
		"above-5k":   "5k-plus",
		"10k-plus":   "5k-plus",
		"2000-5000":  "2k-5k",
		"1000-2000":  "1k-2k",
		"below-1000": "under-1k",
	},
	Readiness: {
		"asap":         "immediately",
		"next-month":   "within-30-days",
		"this-quarter": "within-90-days",
		"researching":  "just-researching",
	},
}

// dimensionAliases maps alternative dimension spellings (camelCase keys from
// the quiz payload and older tag names) onto canonical dimensions. Keys are
// lowercase with separators stripped.
var dimensionAliases = map[string]Dimension{
	"costofstatusquo":  CostOfStatusQuo,
	"costofinaction":   CostOfStatusQuo,
	"pain":             CostOfStatusQuo,
	"successgoal":      SuccessGoal,
	"goal":             SuccessGoal,
	"timeavailability": TimeAvailability,
	"time":             TimeAvailability,
	"budget":           Investment,
	"investmentrange":  Investment,
	"timeline":         Readiness,
	"objection":        Hesitation,
	"why":              Motivation,
}
