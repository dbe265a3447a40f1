package jobs

import "testing"

func TestEmbedTextRefResolve(t *testing.T) {
	t.Parallel()
	previous := `{"population":"872000"}`

	cases := []struct {
		name string
		ref  *EmbedTextRef
		want string
	}{
		{"nil ref", nil, previous},
		{"previous output", &EmbedTextRef{Source: EmbedPreviousOutput}, previous},
		{"literal", &EmbedTextRef{Source: EmbedLiteral, Literal: "fixed text"}, "fixed text"},
		{"empty literal", &EmbedTextRef{Source: EmbedLiteral, Literal: "  "}, previous},
		{"unknown source", &EmbedTextRef{Source: "guess"}, previous},
		// a literal that merely mentions magic words stays literal
		{"literal mentioning output", &EmbedTextRef{Source: EmbedLiteral, Literal: "store the output verbatim"}, "store the output verbatim"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.ref.Resolve(previous); got != tc.want {
				t.Fatalf("Resolve: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	live := []Status{StatusPending, StatusQueued, StatusProcessing, StatusWaitingForSelection}

	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range live {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if Status("bogus").Valid() {
		t.Fatalf("bogus status must be invalid")
	}
}
