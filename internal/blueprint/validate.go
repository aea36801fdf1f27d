package blueprint

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validate runs the semantic checks that go beyond JSON shape. It is pure:
// calling it again on the same blueprint yields the same report.
func Validate(b Blueprint) ValidationReport {
	issues := make([]string, 0)

	if runeLen(b.Name) < NameMin {
		issues = append(issues, "اسم البوت قصير جداً.")
	} else if runeLen(b.Name) > NameMax {
		issues = append(issues, "اسم البوت طويل جداً.")
	}
	if runeLen(b.Description) < DescriptionMin {
		issues = append(issues, "وصف البوت قصير جداً.")
	} else if runeLen(b.Description) > DescriptionMax {
		issues = append(issues, "وصف البوت طويل جداً.")
	}
	if len(b.Menu) < MenuMin || len(b.Menu) > MenuMax {
		issues = append(issues, "عدد عناصر القائمة يجب أن يكون بين 3 و7.")
	}

	seen := make(map[string]int, len(b.Menu))
	for i, item := range b.Menu {
		n := i + 1
		title := strings.TrimSpace(item.Title)
		switch {
		case title == "":
			issues = append(issues, fmt.Sprintf("عنصر القائمة رقم %d بدون عنوان.", n))
		case utf8.RuneCountInString(title) > TitleMax:
			issues = append(issues, fmt.Sprintf("عنوان عنصر القائمة رقم %d أطول من %d حرفاً.", n, TitleMax))
		}
		action := strings.TrimSpace(item.Action)
		switch {
		case action == "":
			issues = append(issues, fmt.Sprintf("عنصر القائمة رقم %d بدون إجراء.", n))
		case utf8.RuneCountInString(action) > ActionMax:
			issues = append(issues, fmt.Sprintf("إجراء عنصر القائمة رقم %d أطول من %d حرفاً.", n, ActionMax))
		}
		if title == "" {
			continue
		}
		key := strings.ToLower(title)
		if first, dup := seen[key]; dup {
			issues = append(issues, fmt.Sprintf("عنوان عنصر القائمة رقم %d مكرر مع العنصر رقم %d.", n, first))
			continue
		}
		seen[key] = n
	}

	for i, t := range b.Triggers {
		if !isTriggerType(t.Type) {
			issues = append(issues, fmt.Sprintf("نوع المشغّل رقم %d غير مدعوم.", i+1))
		}
	}

	if strings.TrimSpace(b.Fallback) == "" {
		issues = append(issues, "رسالة الرد الافتراضية مفقودة.")
	}

	return ValidationReport{OK: len(issues) == 0, Issues: issues}
}

// ValidateAndFix applies the deterministic repairs (default fallback) and then validates.
// Repaired is set when a fix was applied.
func ValidateAndFix(b Blueprint) (Blueprint, ValidationReport) {
	fixed := b.Normalize()
	repaired := false
	if fixed.Fallback == "" {
		fixed = fixed.WithFallback()
		repaired = true
	}
	report := Validate(fixed)
	report.Repaired = repaired
	return fixed, report
}

func isTriggerType(value string) bool {
	for _, t := range TriggerTypes {
		if t == value {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
