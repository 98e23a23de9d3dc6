package folio

import (
	"fmt"
	"math"
	"strings"
	"time"

	"folibot/internal/deadline"
)

// Formatter renders the payment reminders and the expiry notice in Spanish.
// It satisfies deadline.Formatter.
type Formatter struct {
	Entity   string
	Price    int
	Currency string
}

func (f Formatter) Reminder(item string, remaining time.Duration) string {
	var b strings.Builder
	b.WriteString("⚡ RECORDATORIO DE PAGO")
	if f.Entity != "" {
		b.WriteString(" " + f.Entity)
	}
	fmt.Fprintf(&b, "\n\nFolio: %s\nTiempo restante: %d minutos\n", item, minutes(remaining))
	if f.Price > 0 {
		fmt.Fprintf(&b, "Monto: $%d %s\n", f.Price, f.Currency)
	}
	b.WriteString("\n📸 Envíe su comprobante de pago (imagen) para validar el trámite.")
	return b.String()
}

func (f Formatter) Expired(item string) string {
	return fmt.Sprintf("⏰ TIEMPO AGOTADO\n\n"+
		"El folio %s ha sido eliminado del sistema por falta de pago.\n\n"+
		"Para tramitar un nuevo permiso utilice /permiso", item)
}

// minutes rounds to the nearest whole minute.
func minutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

type termsFormatter struct{ terms func() Config }

// TermsFormatter reads the terms on every call so reminders follow config
// reloads.
func TermsFormatter(terms func() Config) deadline.Formatter {
	return termsFormatter{terms: terms}
}

func (f termsFormatter) current() Formatter {
	cfg := f.terms()
	return Formatter{Entity: cfg.Entity, Price: cfg.Price, Currency: cfg.Currency}
}

func (f termsFormatter) Reminder(item string, remaining time.Duration) string {
	return f.current().Reminder(item, remaining)
}

func (f termsFormatter) Expired(item string) string { return f.current().Expired(item) }
