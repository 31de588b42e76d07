package domain

// Palettes are the participant bubble colors per gender.
var Palettes = map[Gender][]string{
	GenderMale: {
		"#4A90E2", "#5C9FDB", "#6EAEE4", "#7FB8E8", "#91C3EC",
		"#667EEA", "#7B8FED", "#90A0F0", "#A5B1F3", "#BAC2F6",
		"#4F86C6", "#6495ED", "#7BA7E7", "#92B9F1", "#A9CBF5",
	},
	GenderFemale: {
		"#FF6B9D", "#FF7FA7", "#FF93B1", "#FFA7BB", "#FFBBC5",
		"#FEC0CE", "#FECDD6", "#FEDADA", "#FEE7E6", "#FFF4F3",
		"#E91E63", "#EC407A", "#F06292", "#F48FB1", "#F8BBD0",
	},
}

// AssignColor picks the first palette color not used by a participant of the same gender.
// Once the palette is exhausted colors are reused in order.
func AssignColor(gender Gender, participants []Participant) string {
	palette := Palettes[gender]
	if len(palette) == 0 {
		return ""
	}
	used := make(map[string]struct{})
	sameGender := 0
	for _, p := range participants {
		if p.Gender != gender {
			continue
		}
		sameGender++
		used[p.Color] = struct{}{}
	}
	for _, c := range palette {
		if _, ok := used[c]; !ok {
			return c
		}
	}
	return palette[sameGender%len(palette)]
}
