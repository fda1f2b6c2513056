package idcard

import (
	"encoding/json"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Họ và tên", "ho va ten"},
		{"Quốc tịch", "quoc tich"},
		{"ĐỒNG THÁP", "dong thap"},
		{"Việt Nam", "viet nam"},
		{"plain ASCII", "plain ascii"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Fold(tt.in); got != tt.want {
				t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLabelsValue(t *testing.T) {
	labels := DefaultLabels()
	tests := []struct {
		name  string
		field Field
		line  string
		want  string
		ok    bool
	}{
		{"accented", FieldFullName, "Họ và tên: NGUYỄN VĂN AN", "NGUYỄN VĂN AN", true},
		{"unaccented", FieldFullName, "Ho va ten - Tran Thi B", "Tran Thi B", true},
		{"bilingual", FieldFullName, "Họ và tên / Full name: LÊ VĂN C", "LÊ VĂN C", true},
		{"dob", FieldDOB, "Ngày sinh / Date of birth: 01/02/1990", "01/02/1990", true},
		{"place", FieldPlaceOfBirth, "Quê quán: Hà Nội", "Hà Nội", true},
		{"longest id label", FieldIDNumber, "Số định danh: 012345678901", "012345678901", true},
		{"no label", FieldGender, "Nam", "", false},
		{"label inside word", FieldIDNumber, "Sonla 123", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := labels.Value(tt.field, tt.line)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Value() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLabelsFind(t *testing.T) {
	labels := DefaultLabels()
	m, ok := labels.Find("Quốc tịch: Việt Nam")
	if !ok || m.Field != FieldNationality {
		t.Fatalf("Find() = %+v, %v", m, ok)
	}
	if m.Start != 0 || m.End != len("Quốc tịch") {
		t.Errorf("offsets = [%d,%d), want [0,%d)", m.Start, m.End, len("Quốc tịch"))
	}
}

func TestLabelsFindIsStable(t *testing.T) {
	// "Ten" is a label of two fields; the field earlier on the card wins.
	m := map[Field][]string{
		FieldPlaceOfBirth: {"Ten"},
		FieldFullName:     {"Ten"},
		FieldGender:       {"Sex"},
	}
	for i := 0; i < 20; i++ {
		got, ok := NewLabels(m).Find("Ten: An")
		if !ok || got.Field != FieldFullName {
			t.Fatalf("build %d: Find() = %+v, %v, want %s", i, got, ok, FieldFullName)
		}
	}
}

func TestIsHeader(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"CỘNG HÒA XÃ HỘI CHỦ NGHĨA VIỆT NAM", true},
		{"Độc lập - Tự do - Hạnh phúc", true},
		{"CĂN CƯỚC CÔNG DÂN", true},
		{"SOCIALIST REPUBLIC OF VIET NAM", true},
		{"Citizen Identity Card", true},
		{"NGUYỄN VĂN AN", false},
		{"Quốc tịch: Việt Nam", false},
		{"Lê Tự Do", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := IsHeader(tt.line); got != tt.want {
				t.Errorf("IsHeader(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		name  string
		found []Field
		want  Status
	}{
		{"nothing", nil, StatusFailed},
		{"id only", []Field{FieldIDNumber}, StatusPartial},
		{"id and name", []Field{FieldIDNumber, FieldFullName}, StatusSuccess},
		{"everything", AllFields, StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResult("run")
			for _, f := range tt.found {
				r.Offer(NewExtractedField(f, "x", ptr(80.0), nil))
			}
			if got := r.ComputeStatus(); got != tt.want {
				t.Errorf("ComputeStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOfferKeepsBest(t *testing.T) {
	r := NewResult("run")
	r.Offer(NewExtractedField(FieldFullName, "Nguyen Van A", ptr(40.0), nil))
	if r.Offer(NewExtractedField(FieldFullName, "", nil, nil)) {
		t.Error("empty value replaced a found one")
	}
	if r.Offer(NewExtractedField(FieldFullName, "Nguyen Van B", ptr(40.0), nil)) {
		t.Error("equal confidence replaced the first value")
	}
	if !r.Offer(NewExtractedField(FieldFullName, "Nguyen Van C", ptr(75.5), nil)) {
		t.Error("higher confidence was rejected")
	}
	if got := r.Get(FieldFullName).String(); got != "Nguyen Van C" {
		t.Errorf("value = %q", got)
	}
}

func TestVerify(t *testing.T) {
	r := NewResult("run")
	r.Offer(NewExtractedField(FieldIDNumber, "001099012345", ptr(90.0), nil))

	r.Verify("")
	if r.Verified != nil {
		t.Error("Verified set without expectation")
	}
	r.Verify("001099012345")
	if r.Verified == nil || !*r.Verified {
		t.Error("matching id not verified")
	}
	r.Verify("999")
	if r.Verified == nil || *r.Verified {
		t.Error("mismatching id verified")
	}
}

func TestResultJSONShape(t *testing.T) {
	r := NewResult("run-1")
	r.Offer(NewExtractedField(FieldIDNumber, "001099012345", ptr(91.2), nil))
	r.Status = StatusPartial

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]map[string]interface{}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	m = map[string]map[string]interface{}{}
	for _, f := range []string{"id_number", "full_name"} {
		var v map[string]interface{}
		if err := json.Unmarshal(top[f], &v); err != nil {
			t.Fatalf("field %s: %v", f, err)
		}
		m[f] = v
	}
	if m["id_number"]["value"] != "001099012345" || m["id_number"]["confidence"] != 91.2 {
		t.Errorf("id_number = %v", m["id_number"])
	}
	if m["full_name"]["value"] != nil || m["full_name"]["confidence"] != nil {
		t.Errorf("full_name = %v, want null value and confidence", m["full_name"])
	}

	var back Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal(Result) error = %v", err)
	}
	if back.RunID != "run-1" || back.Get(FieldIDNumber).String() != "001099012345" || back.Status != StatusPartial {
		t.Errorf("decoded result = %+v", back)
	}
}
