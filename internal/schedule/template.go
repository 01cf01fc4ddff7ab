package schedule

// Sections lists the class sections an administrator can schedule.
var Sections = []string{
	"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8", "S9", "S10",
	"IB-1", "IB-2", "IB-3", "IB-4", "IB-5", "IB-6",
}

// ValidSection reports whether s is one of Sections.
func ValidSection(s string) bool {
	for _, v := range Sections {
		if v == s {
			return true
		}
	}
	return false
}

// DefaultTemplate is the blank day offered when a section has no schedule yet.
func DefaultTemplate() Map {
	return Map{
		"8:30 - 9:30 AM":   "",
		"9:30 - 10:30 AM":  "",
		"10:30 - 11:30 AM": "",
		"11:30 - 12:30 PM": "",
		"12:30 - 1:30 PM":  "Lunch Break",
		"1:30 - 2:30 PM":   "",
		"2:30 - 3:30 PM":   "",
		"3:30 - 4:30 PM":   "",
	}
}
