package slot

import "testing"

func TestSlotVectors(t *testing.T) {
	cases := []struct {
		key  string
		slot int
	}{
		{"foo", 12182},
		{"{user1000}.following", 5474},
		{"{user1000}.followers", 5474},
	}
	for _, c := range cases {
		if got := Slot(c.key); got != c.slot {
			t.Errorf("Slot(%q) = %d, want %d", c.key, got, c.slot)
		}
	}
}

func TestEmptyKeyIsStable(t *testing.T) {
	got := Slot("")
	again := Slot("")
	if got != again {
		t.Errorf("Slot(\"\") not stable: %d vs %d", got, again)
	}
}

func TestEmptyTagIsIgnored(t *testing.T) {
	// "foo{}bar" has an empty {} span, so the whole key hashes literally,
	// and must equal itself across calls.
	a := Slot("foo{}bar")
	b := Slot("foo{}bar")
	if a != b {
		t.Errorf("Slot(\"foo{}bar\") not stable: %d vs %d", a, b)
	}
}

func TestKeyTagExtraction(t *testing.T) {
	cases := []struct {
		key, tag string
	}{
		{"{user1000}.following", "user1000"},
		{"foo{}bar", "foo{}bar"},      // empty tag ignored
		{"foo{bar", "foo{bar"},        // no closing brace
		{"foo}bar", "foo}bar"},        // no opening brace
		{"{a}{b}", "a"},               // only the first tag counts
		{"noTagAtAll", "noTagAtAll"},
	}
	for _, c := range cases {
		if got := keyTag(c.key); got != c.tag {
			t.Errorf("keyTag(%q) = %q, want %q", c.key, got, c.tag)
		}
	}
}

func TestSlotInRange(t *testing.T) {
	for _, key := range []string{"a", "b", "longer-key-name", "{tag}rest", ""} {
		s := Slot(key)
		if s < 0 || s >= Count {
			t.Errorf("Slot(%q) = %d out of [0, %d)", key, s, Count)
		}
	}
}
