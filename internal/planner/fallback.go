package planner

import (
	"regexp"
	"strings"
	"time"

	"snapbot/internal/clock"
	"snapbot/internal/schedule"
)

// fallbackTemplate is one pre-written scene anchored to a nominal time
// of day. Requested slots pick the template with the nearest anchor.
type fallbackTemplate struct {
	anchor     clock.TimeOfDay
	scene      string
	mood       string
	variations []schedule.Variation
}

func minutes(h, m int) clock.TimeOfDay { return clock.TimeOfDay(h*60 + m) }

// Anchors follow the default posting rhythm: 07:30 through 22:00.
var fallbackBank = []fallbackTemplate{
	{
		anchor: minutes(7, 30),
		scene:  "just woke up in a sunlit bedroom, hair still messy",
		mood:   "sleepy",
		variations: []schedule.Variation{
			{Description: "sitting up in bed, stretching toward the window", Pose: "sitting on bed", Action: "stretching", Expression: "sleepy smile"},
			{Description: "wrapped in the blanket, peeking over the edge", Pose: "lying down", Action: "hugging blanket", Expression: "drowsy"},
		},
	},
	{
		anchor: minutes(9, 0),
		scene:  "breakfast at the kitchen table, toast and a glass of milk",
		mood:   "fresh",
		variations: []schedule.Variation{
			{Description: "holding a slice of toast mid-bite", Pose: "sitting at table", Action: "eating toast", Expression: "content"},
			{Description: "raising the glass of milk like a toast", Pose: "leaning on table", Action: "raising glass", Expression: "playful grin"},
		},
	},
	{
		anchor: minutes(10, 30),
		scene:  "at the desk with notes spread out, morning focus time",
		mood:   "focused",
		variations: []schedule.Variation{
			{Description: "pen in hand, looking up from a notebook", Pose: "sitting at desk", Action: "writing notes", Expression: "concentrated"},
			{Description: "chin resting on hand, thinking over the page", Pose: "leaning on desk", Action: "resting chin on hand", Expression: "thoughtful"},
		},
	},
	{
		anchor: minutes(12, 0),
		scene:  "lunch break, a bowl of noodles steaming on the table",
		mood:   "happy",
		variations: []schedule.Variation{
			{Description: "chopsticks lifting noodles, steam rising", Pose: "sitting at table", Action: "lifting noodles with chopsticks", Expression: "delighted"},
			{Description: "blowing on a spoonful of soup", Pose: "leaning over bowl", Action: "blowing on spoon", Expression: "eager"},
		},
	},
	{
		anchor: minutes(14, 0),
		scene:  "afternoon walk in the park, dappled light through the trees",
		mood:   "relaxed",
		variations: []schedule.Variation{
			{Description: "strolling along the path, one hand trailing a hedge", Pose: "walking", Action: "trailing hand along hedge", Expression: "easy smile"},
			{Description: "paused on a bench, face tilted toward the sun", Pose: "sitting on bench", Action: "tilting face upward", Expression: "peaceful"},
		},
	},
	{
		anchor: minutes(16, 0),
		scene:  "at a cafe window seat with an iced latte",
		mood:   "cozy",
		variations: []schedule.Variation{
			{Description: "stirring the latte, watching the street outside", Pose: "sitting by window", Action: "stirring drink", Expression: "daydreaming"},
			{Description: "both hands around the cold glass, grinning", Pose: "elbows on table", Action: "holding glass with both hands", Expression: "grinning"},
		},
	},
	{
		anchor: minutes(18, 0),
		scene:  "golden hour on the balcony, sky turning orange",
		mood:   "warm",
		variations: []schedule.Variation{
			{Description: "leaning on the railing, hair catching the light", Pose: "leaning on railing", Action: "watching sunset", Expression: "soft smile"},
			{Description: "arms spread to the evening breeze", Pose: "standing", Action: "arms spread", Expression: "carefree"},
		},
	},
	{
		anchor: minutes(20, 0),
		scene:  "dinner done, curled up on the sofa with a book",
		mood:   "mellow",
		variations: []schedule.Variation{
			{Description: "legs tucked up, book open on knees", Pose: "curled on sofa", Action: "reading", Expression: "absorbed"},
			{Description: "peeking over the top of the book", Pose: "lying on sofa", Action: "holding book up", Expression: "mischievous"},
		},
	},
	{
		anchor: minutes(22, 0),
		scene:  "winding down, warm lamp light and a mug of tea",
		mood:   "sleepy",
		variations: []schedule.Variation{
			{Description: "cradling the mug, eyes half closed", Pose: "sitting cross-legged", Action: "cradling mug", Expression: "drowsy smile"},
			{Description: "waving good night at the mirror", Pose: "standing by mirror", Action: "waving", Expression: "tired but happy"},
		},
	},
}

// holidayOverrides swaps the working-hours templates for leisure ones
// when the plan request marks the day as a holiday.
var holidayOverrides = map[clock.TimeOfDay]fallbackTemplate{
	minutes(10, 30): {
		anchor: minutes(10, 30),
		scene:  "lazy holiday morning, still in pajamas watering the plants",
		mood:   "unhurried",
		variations: []schedule.Variation{
			{Description: "tipping the watering can over a windowsill pot", Pose: "standing by window", Action: "watering plants", Expression: "serene"},
			{Description: "sniffing a leaf, nose scrunched", Pose: "bent toward plant", Action: "smelling leaves", Expression: "scrunched nose"},
		},
	},
	minutes(16, 0): {
		anchor: minutes(16, 0),
		scene:  "holiday outing, ice cream cone by the riverside",
		mood:   "playful",
		variations: []schedule.Variation{
			{Description: "cone held out toward the camera", Pose: "standing by river", Action: "offering ice cream", Expression: "cheeky"},
			{Description: "catching a drip before it falls", Pose: "leaning forward", Action: "licking ice cream", Expression: "laughing"},
		},
	},
}

// FallbackPlan builds a schedule for the requested slots from the
// template bank. Each slot takes the template with the nearest anchor;
// all text passes the banned-term scrub.
func FallbackPlan(req schedule.PlanRequest) *schedule.DailySchedule {
	d := &schedule.DailySchedule{
		Date:             req.Date,
		PersonaSignature: req.PersonaSignature,
		Status:           schedule.GenerationFallback,
		GeneratedAt:      time.Now(),
	}
	for _, slot := range req.Slots {
		tpl := nearestTemplate(slot, req.Holiday)
		e := schedule.Entry{
			TimeOfDay: slot,
			Scene:     sanitize(tpl.scene),
			Mood:      tpl.mood,
		}
		for _, v := range tpl.variations {
			v.Description = sanitize(v.Description)
			v.Pose = sanitize(v.Pose)
			v.Action = sanitize(v.Action)
			e.Variations = append(e.Variations, v)
		}
		d.Entries = append(d.Entries, e)
	}
	d.SortEntries()
	return d
}

func nearestTemplate(slot clock.TimeOfDay, holiday bool) fallbackTemplate {
	best := fallbackBank[0]
	bestDist := clock.Distance(slot, best.anchor)
	for _, tpl := range fallbackBank[1:] {
		if d := clock.Distance(slot, tpl.anchor); d < bestDist {
			best = tpl
			bestDist = d
		}
	}
	if holiday {
		if tpl, ok := holidayOverrides[best.anchor]; ok {
			return tpl
		}
	}
	return best
}

// Scene text must never mention the picture-taking hardware; the
// templates are checked anyway in case an edit slips one in, and
// synthesizer output gets the same scrub.
var bannedTerms = regexp.MustCompile(`(?i)\b(smartphone|phone|mobile|device)\b`)

var (
	spaceBeforeComma = regexp.MustCompile(`\s+,`)
	danglingCommas   = regexp.MustCompile(`,\s*,+`)
	extraSpaces      = regexp.MustCompile(`\s+`)
)

func sanitize(s string) string {
	if s == "" {
		return s
	}
	cleaned := bannedTerms.ReplaceAllString(s, "")
	cleaned = spaceBeforeComma.ReplaceAllString(cleaned, ",")
	cleaned = danglingCommas.ReplaceAllString(cleaned, ", ")
	cleaned = extraSpaces.ReplaceAllString(cleaned, " ")
	return strings.Trim(cleaned, " ,")
}
