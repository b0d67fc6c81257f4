package pgschema

import (
	"errors"
	"strings"
	"testing"
)

func TestSQL_QualifiesEveryTable(t *testing.T) {
	t.Parallel()

	ddl, err := SQL("fq_test")
	if err != nil {
		t.Fatalf("SQL: %v", err)
	}
	if strings.Contains(ddl, "__SCHEMA__") {
		t.Fatalf("placeholder left in DDL")
	}
	for _, table := range []string{"quests", "mappings", "shares", "progress"} {
		if !strings.Contains(ddl, `"fq_test".`+table) {
			t.Fatalf("table %s not schema-qualified", table)
		}
	}
}

func TestSQL_RejectsUnsafeSchema(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "Upper", "a;drop", "1abc", `x"y`} {
		if _, err := SQL(s); !errors.Is(err, ErrInvalidSchema) {
			t.Fatalf("SQL(%q) err=%v want ErrInvalidSchema", s, err)
		}
	}
}

func TestIdent(t *testing.T) {
	t.Parallel()

	if got := Ident("fieldquest", "shares"); got != `"fieldquest"."shares"` {
		t.Fatalf("Ident=%s", got)
	}
}
