package validation

import "testing"

func TestIsValidEntityID(t *testing.T) {
	valid := []string{
		"lst_0123456789abcdef01234567",
		"ord_aaaaaaaaaaaaaaaaaaaaaaaa",
	}
	for _, id := range valid {
		if !IsValidEntityID(id) {
			t.Errorf("Expected %q to be valid", id)
		}
	}

	invalid := []string{
		"",
		"lst_short",
		"LST_0123456789abcdef01234567",
		"listing_0123456789abcdef01234567",
		"lst-0123456789abcdef01234567",
	}
	for _, id := range invalid {
		if IsValidEntityID(id) {
			t.Errorf("Expected %q to be invalid", id)
		}
	}
}

func TestValidate_CollectsFieldErrors(t *testing.T) {
	errs := Validate(
		Required("listing_id", ""),
		ValidAmount("amount", "-5"),
		ValidCurrency("currency", "DOGE"),
	)
	if len(errs) != 3 {
		t.Fatalf("Expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "listing_id" {
		t.Errorf("Expected first error on listing_id, got %s", errs[0].Field)
	}
}

func TestValidate_PassesCleanInput(t *testing.T) {
	errs := Validate(
		Required("buyer_id", "usr_0123456789abcdef01234567"),
		ValidAmount("amount", "2500.00"),
		ValidCurrency("currency", "USD"),
	)
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hi\x00there  ", 100); got != "hithere" {
		t.Errorf("Expected 'hithere', got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("Expected truncation to 'abc', got %q", got)
	}
}
