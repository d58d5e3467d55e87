package mnemonic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestEncode_KnownVectors(t *testing.T) {
	tests := []struct {
		entropy string
		phrase  string
	}{
		{
			"00000000000000000000000000000000",
			"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		},
		{
			"7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f",
			"legal winner thank year wave sausage worth useful legal winner thank yellow",
		},
		{
			"80808080808080808080808080808080",
			"letter advice cage absurd amount doctor acoustic avoid letter advice cage above",
		},
		{
			"ffffffffffffffffffffffffffffffff",
			"zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong",
		},
		{
			"9e885d952ad362caeb4efe34a8e91bd2",
			"ozone drill grab fiber curtain grace pudding thank cruise elder eight picnic",
		},
		{
			"23db8160a31d3e0dca3688ed941adbf3",
			"cat swing flag economy stadium alone churn speed unique patch report train",
		},
		{
			"f30f8c1da665478f49b001d94c5fc452",
			"vessel ladder alter error federal sibling chat ability sun glass valve picture",
		},
	}

	for _, tt := range tests {
		entropy, err := hex.DecodeString(tt.entropy)
		if err != nil {
			t.Fatalf("bad test entropy: %v", err)
		}

		words, err := Encode(entropy)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", tt.entropy, err)
		}
		if got := strings.Join(words, " "); got != tt.phrase {
			t.Errorf("Encode(%s)\n got: %s\nwant: %s", tt.entropy, got, tt.phrase)
		}

		back, err := Decode(words)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", tt.phrase, err)
		}
		if !bytes.Equal(back, entropy) {
			t.Errorf("Decode round-trip = %x, want %s", back, tt.entropy)
		}
	}
}

func TestGenerate_RoundTrip(t *testing.T) {
	wordCounts := map[int]int{
		128: 12,
		160: 15,
		192: 18,
		224: 21,
		256: 24,
	}

	for bits, wantWords := range wordCounts {
		entropy, words, err := Generate(bits)
		if err != nil {
			t.Fatalf("Generate(%d) error = %v", bits, err)
		}
		if len(entropy) != bits/8 {
			t.Errorf("Generate(%d) entropy length = %d, want %d", bits, len(entropy), bits/8)
		}
		if len(words) != wantWords {
			t.Errorf("Generate(%d) word count = %d, want %d", bits, len(words), wantWords)
		}

		back, err := Decode(words)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if !bytes.Equal(back, entropy) {
			t.Errorf("Generate(%d) round-trip mismatch", bits)
		}
	}
}

func TestGenerate_InvalidStrength(t *testing.T) {
	for _, bits := range []int{0, 64, 127, 130, 512} {
		if _, _, err := Generate(bits); !errors.Is(err, ErrInvalidEntropyLength) {
			t.Errorf("Generate(%d) error = %v, want ErrInvalidEntropyLength", bits, err)
		}
	}
}

func TestEncode_InvalidLength(t *testing.T) {
	for _, n := range []int{0, 15, 17, 33} {
		if _, err := Encode(make([]byte, n)); !errors.Is(err, ErrInvalidEntropyLength) {
			t.Errorf("Encode(%d bytes) error = %v, want ErrInvalidEntropyLength", n, err)
		}
	}
}

func TestDecode_InvalidWordCount(t *testing.T) {
	words := []string{"abandon", "abandon", "abandon"}
	if _, err := Decode(words); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Decode(3 words) error = %v, want ErrInvalidLength", err)
	}
}

func TestDecode_UnknownWord(t *testing.T) {
	words := Normalize("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon notaword")
	if _, err := Decode(words); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("Decode() error = %v, want ErrInvalidMnemonic", err)
	}
}

func TestDecode_BadChecksum(t *testing.T) {
	// All-abandon is decodable but carries the wrong checksum word (the
	// valid phrase for zero entropy ends in "about").
	words := Normalize("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon")
	if _, err := Decode(words); !errors.Is(err, ErrInvalidChecksum) {
		t.Errorf("Decode() error = %v, want ErrInvalidChecksum", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"  legal  winner\tthank ", []string{"legal", "winner", "thank"}},
		{"one", []string{"one"}},
		{"", nil},
		{"a\n b\n\nc", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		got := Normalize(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("Normalize(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Normalize(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSeed_KnownVector(t *testing.T) {
	words := Normalize("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")

	seed := Seed(words, "TREZOR")
	if len(seed) != SeedSize {
		t.Fatalf("Seed() length = %d, want %d", len(seed), SeedSize)
	}

	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"
	if got := hex.EncodeToString(seed); got != want {
		t.Errorf("Seed() = %s, want %s", got, want)
	}
}

func TestSeed_EmptyPassphrase(t *testing.T) {
	words := Normalize("legal winner thank year wave sausage worth useful legal winner thank yellow")

	a := Seed(words, "")
	b := Seed(words, "")
	if !bytes.Equal(a, b) {
		t.Error("Seed() is not deterministic")
	}

	c := Seed(words, "other")
	if bytes.Equal(a, c) {
		t.Error("Seed() ignores passphrase")
	}
}

func TestWordlistIntegrity(t *testing.T) {
	if len(wordlist) != WordCount {
		t.Fatalf("wordlist has %d words, want %d", len(wordlist), WordCount)
	}

	seen := make(map[string]bool, WordCount)
	prefixes := make(map[string]bool, WordCount)
	for i, w := range wordlist {
		if seen[w] {
			t.Errorf("duplicate word %q", w)
		}
		seen[w] = true

		if i > 0 && wordlist[i-1] >= w {
			t.Errorf("wordlist not sorted at %d: %q >= %q", i, wordlist[i-1], w)
		}

		p := w
		if len(p) > 4 {
			p = p[:4]
		}
		if prefixes[p] {
			t.Errorf("duplicate 4-char prefix %q", p)
		}
		prefixes[p] = true
	}
}
