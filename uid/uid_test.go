package uid

import (
	"strings"
	"testing"

	dicomuid "github.com/suyashkumar/dicom/pkg/uid"
)

// Every transfer syntax declared here must be recognized by the dataset
// serializer, which refuses UIDs outside its dictionary. A private UID
// would fail on write and break parsing on re-open.
func TestTransferSyntaxesRecognized(t *testing.T) {
	syntaxes := []string{
		ExplicitVRLittleEndian,
		JPEGBaseline8Bit,
		JPEG2000Lossless,
		JPEG2000,
		DeflateTiles,
	}
	for _, ts := range syntaxes {
		if _, _, err := dicomuid.ParseTransferSyntaxUID(ts); err != nil {
			t.Errorf("ParseTransferSyntaxUID(%s): %v", ts, err)
		}
	}
}

func TestIdentifier(t *testing.T) {
	plain := FileUIDs{Instance: "1.2.3"}
	if got := plain.Identifier(); got != "1.2.3" {
		t.Errorf("Identifier = %q, want instance UID", got)
	}

	part := FileUIDs{Instance: "1.2.3", Concatenation: "1.2.9"}
	if got := part.Identifier(); got != "1.2.9" {
		t.Errorf("Identifier = %q, want concatenation UID", got)
	}
}

func TestMatches(t *testing.T) {
	base := BaseUIDs{StudyInstance: "1", SeriesInstance: "2", FrameOfReference: "3"}
	a := FileUIDs{Base: base, Instance: "4", Concatenation: "9"}
	b := FileUIDs{Base: base, Instance: "5", Concatenation: "9"}
	if !a.Matches(b) {
		t.Error("concatenation parts should match")
	}

	c := FileUIDs{Base: base, Instance: "5"}
	if a.Matches(c) {
		t.Error("different identifiers should not match")
	}

	other := b
	other.Base.SeriesInstance = "20"
	if a.Matches(other) {
		t.Error("different series should not match")
	}
}

func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !strings.HasPrefix(id, "2.25.") {
			t.Fatalf("New() = %q, want 2.25. prefix", id)
		}
		if len(id) > 64 {
			t.Fatalf("New() = %q exceeds 64 characters", id)
		}
		if seen[id] {
			t.Fatalf("New() repeated %q", id)
		}
		seen[id] = true
	}
}
