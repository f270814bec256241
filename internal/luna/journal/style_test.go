package journal

import "testing"

func TestDetectStyle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Style
	}{
		{"factual account", "I went to the market and then cooked dinner.", StyleFactual},
		{"reflection", "I felt so overwhelmed by the deadline today.", StyleReflection},
		{"gratitude", "I'm grateful for my sister's phone call.", StyleGratitude},
		{"learning", "I realized I work better in the mornings.", StyleLearning},
		{"future self", "One day I hope to live near the sea.", StyleFutureSelf},
		{"intention", "Tomorrow I want to start running before work.", StyleIntention},
		{"intention beats aspiration", "I will finish the draft even though I want to rest.", StyleIntention},
		{"case insensitive", "I LEARNED something new about myself.", StyleLearning},
		{"empty", "", StyleFactual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectStyle(tt.text); got != tt.want {
				t.Errorf("DetectStyle(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}
