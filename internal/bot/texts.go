package bot

import (
	"fmt"
	"math"
	"strings"
	"time"

	"folibot/internal/folio"
	"folibot/internal/storage"
)

var fallbackReplies = []string{
	"🏛️ Sistema Digital %s. Para tramitar su permiso utilice /permiso",
	"📋 Servicio automatizado. Comando disponible: /permiso para iniciar trámite",
	"⚡ Sistema en línea. Use /permiso para generar su documento oficial",
	"🚗 Plataforma de permisos %s. Inicie su proceso con /permiso",
}

var priceKeywords = []string{"costo", "precio", "cuanto", "cuánto", "deposito", "depósito", "pago", "valor", "monto"}

func asksPrice(text string) bool {
	t := strings.ToLower(text)
	for _, k := range priceKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// window renders the payment window in Spanish ("2 horas", "45 minutos").
func window(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		if h := int(d / time.Hour); h > 1 {
			return fmt.Sprintf("%d horas", h)
		}
		return "1 hora"
	}
	return fmt.Sprintf("%d minutos", int(d.Minutes()))
}

func ceilMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}

func price(cfg folio.Config) string {
	return fmt.Sprintf("$%d %s", cfg.Price, cfg.Currency)
}

func welcomeText(cfg folio.Config) string {
	return fmt.Sprintf("🏛️ Sistema Digital de Permisos %s\n"+
		"Servicio automatizado para trámites vehiculares\n\n"+
		"💰 Costo del permiso: %s\n"+
		"⏰ Tiempo límite para pago: %s\n\n"+
		"📋 Use /permiso para iniciar su trámite\n"+
		"⚠️ IMPORTANTE: Su folio será eliminado automáticamente si no realiza el pago dentro del tiempo límite",
		cfg.Entity, price(cfg), window(cfg.Deadline))
}

func permisoIntro(cfg folio.Config, active []folio.ActiveFolio, firstPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚗 TRÁMITE DE PERMISO %s\n\n"+
		"📋 Costo: %s\n"+
		"⏰ Tiempo para pagar: %s\n"+
		"📱 Concepto de pago: Su folio asignado\n\n"+
		"Al continuar acepta que su folio será eliminado si no paga en el tiempo establecido.",
		cfg.Entity, price(cfg), window(cfg.Deadline))
	if len(active) > 0 {
		ids := make([]string, 0, len(active))
		for _, a := range active {
			ids = append(ids, a.Folio)
		}
		fmt.Fprintf(&b, "\n\n📋 FOLIOS ACTIVOS: %s\n(Cada folio tiene su propio temporizador independiente)", strings.Join(ids, ", "))
	}
	b.WriteString("\n\n" + firstPrompt)
	return b.String()
}

func registeredText(cfg folio.Config, f storage.Folio, lookupURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 PERMISO REGISTRADO\n\n"+
		"Folio asignado: %s\n"+
		"👤 Titular: %s\n"+
		"🚗 %s %s %s, serie %s\n"+
		"📅 Vigencia: %s al %s\n",
		f.Folio, f.Nombre, f.Marca, f.Linea, f.Anio, f.Serie,
		f.IssuedAt.Format("02/01/2006"), f.ExpiresAt.Format("02/01/2006"))
	if lookupURL != "" {
		fmt.Fprintf(&b, "🔍 Consulta: %s\n", lookupURL)
	}

	fmt.Fprintf(&b, "\n💰 INSTRUCCIONES DE PAGO\n\n"+
		"💵 Monto: %s\n"+
		"⏰ Tiempo límite: %s\n"+
		"📝 Concepto: Permiso %s\n",
		price(cfg), window(cfg.Deadline), f.Folio)
	if info := strings.TrimSpace(cfg.PaymentInfo); info != "" {
		b.WriteString("\n" + info + "\n")
	}
	fmt.Fprintf(&b, "\n📸 IMPORTANTE: Una vez realizado el pago, envíe la fotografía de su comprobante.\n\n"+
		"⚠️ ADVERTENCIA: Si no completa el pago en %s, el folio %s será eliminado automáticamente del sistema.",
		window(cfg.Deadline), f.Folio)
	return b.String()
}

const systemErrorText = "❌ ERROR EN EL SISTEMA\n\n" +
	"Se ha presentado un inconveniente técnico.\n\n" +
	"Por favor, intente nuevamente con /permiso\n" +
	"Si el problema persiste, contacte al soporte técnico."

const noPendingText = "ℹ️ No se encontró ningún permiso pendiente de pago.\n\n" +
	"Si desea tramitar un nuevo permiso, use /permiso"

func receiptText(entity, id string) string {
	return fmt.Sprintf("✅ COMPROBANTE RECIBIDO CORRECTAMENTE\n\n"+
		"📄 Folio: %s\n"+
		"📸 Su comprobante será revisado por un segundo filtro de verificación.\n"+
		"⏰ El temporizador del folio se detuvo.\n\n"+
		"Una vez validado el pago, su permiso quedará completamente activo.\n\n"+
		"Agradecemos su confianza en el Sistema Digital %s.", id, entity)
}

func chooseFolioText(ids []string) string {
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, "• "+id)
	}
	return fmt.Sprintf("📄 MÚLTIPLES FOLIOS ACTIVOS\n\n"+
		"Tiene %d folios pendientes de pago:\n\n%s\n\n"+
		"Por favor, responda con el NÚMERO DE FOLIO al que corresponde este comprobante.\n"+
		"Ejemplo: %s", len(ids), strings.Join(lines, "\n"), ids[0])
}

func foliosText(active []folio.ActiveFolio) string {
	if len(active) == 0 {
		return "ℹ️ NO HAY FOLIOS ACTIVOS\n\n" +
			"No tiene folios pendientes de pago en este momento.\n\n" +
			"Para crear un nuevo permiso utilice /permiso"
	}
	lines := make([]string, 0, len(active))
	for _, a := range active {
		lines = append(lines, fmt.Sprintf("• %s (%d min restantes)", a.Folio, ceilMinutes(a.Remaining)))
	}
	return fmt.Sprintf("📋 SUS FOLIOS ACTIVOS (%d)\n\n%s\n\n"+
		"⏰ Cada folio tiene su propio temporizador independiente.\n"+
		"📸 Para enviar comprobante, use una imagen.", len(active), strings.Join(lines, "\n"))
}

func priceText(cfg folio.Config) string {
	return fmt.Sprintf("💰 INFORMACIÓN DE COSTO\n\n"+
		"El costo del permiso es %s.\n\n"+
		"Para iniciar su trámite use /permiso", price(cfg))
}

func overrideDoneText(res folio.OverrideResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ TEMPORIZADOR DEL FOLIO %s DETENIDO\n\n"+
		"⏰ Temporizador cancelado\n"+
		"📄 Estado: %s\n"+
		"👤 Usuario ID: %d\n"+
		"📊 Temporizadores activos: %d\n",
		res.Folio, storage.StatusAdminValidated, res.Owner, res.Remaining)
	if !res.Persisted {
		b.WriteString("⚠️ No se pudo actualizar el estado en la base de datos.\n")
	}
	if res.Notified.OK {
		b.WriteString("\nEl usuario será notificado automáticamente.")
	} else {
		fmt.Fprintf(&b, "\n⚠️ No se pudo notificar al usuario: %s", res.Notified.Reason)
	}
	return b.String()
}

func overrideMissingText(id string) string {
	return fmt.Sprintf("❌ TEMPORIZADOR NO ENCONTRADO\n\n"+
		"📄 Folio: %s\n"+
		"⚠️ No hay ningún temporizador activo para este folio.\n\n"+
		"Posibles causas:\n"+
		"• El temporizador ya expiró\n"+
		"• El usuario ya envió comprobante\n"+
		"• El folio no existe o es incorrecto\n"+
		"• El folio ya fue validado anteriormente", id)
}

func overrideInvalidText(id, prefix string) string {
	return fmt.Sprintf("⚠️ FOLIO INVÁLIDO\n\n"+
		"El folio %s no es válido.\n"+
		"Los folios deben comenzar con %s.\n\n"+
		"Ejemplo correcto: SERO%s5", id, prefix, prefix)
}

func overrideUsageText(prefix string) string {
	return "⚠️ FORMATO INCORRECTO\n\n" +
		"Use el formato: SERO[número de folio]\n" +
		"Ejemplo: SERO" + prefix + "5"
}
