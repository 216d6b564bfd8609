package extract

import "testing"

func TestCleanVolumeName(t *testing.T) {
	cases := map[string]string{
		"1. Tập một":   "Tập một",
		"02 - Tập hai": "Tập hai",
		"3: Tập ba":    "Tập ba",
		"Tập bốn":      "Tập bốn",
	}

	for input, expected := range cases {
		if got := cleanVolumeName(input); got != expected {
			t.Errorf("cleanVolumeName(%q) = %q, expected %q", input, got, expected)
		}
	}
}
