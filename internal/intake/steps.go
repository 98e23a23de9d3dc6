package intake

type step struct {
	label string
	ask   string
	upper bool
	// check returns the message shown when the answer is rejected.
	check func(v string) string
	set   func(d *Draft, v string)
}

var steps = [...]step{
	{
		label: "MARCA",
		ask:   "Ingresa la MARCA del vehículo:",
		upper: true,
		check: notEmpty,
		set:   func(d *Draft, v string) { d.Marca = v },
	},
	{
		label: "LÍNEA",
		ask:   "Ingresa la LÍNEA/MODELO del vehículo:",
		upper: true,
		check: notEmpty,
		set:   func(d *Draft, v string) { d.Linea = v },
	},
	{
		label: "AÑO",
		ask:   "Ingresa el AÑO del vehículo (4 dígitos):",
		check: checkYear,
		set:   func(d *Draft, v string) { d.Anio = v },
	},
	{
		label: "SERIE",
		ask:   "Ingresa el NÚMERO DE SERIE del vehículo:",
		upper: true,
		check: checkSerial,
		set:   func(d *Draft, v string) { d.Serie = v },
	},
	{
		label: "MOTOR",
		ask:   "Ingresa el NÚMERO DE MOTOR:",
		upper: true,
		check: notEmpty,
		set:   func(d *Draft, v string) { d.Motor = v },
	},
	{
		label: "COLOR",
		ask:   "Ingresa el COLOR del vehículo:",
		upper: true,
		check: notEmpty,
		set:   func(d *Draft, v string) { d.Color = v },
	},
	{
		label: "NOMBRE",
		ask:   "Ingresa el NOMBRE COMPLETO del titular:",
		upper: true,
		check: notEmpty,
		set:   func(d *Draft, v string) { d.Nombre = v },
	},
}

func notEmpty(v string) string {
	if v == "" {
		return "⚠️ La respuesta no puede estar vacía. Intente nuevamente:"
	}
	return ""
}

func checkYear(v string) string {
	ok := len(v) == 4
	for _, r := range v {
		if r < '0' || r > '9' {
			ok = false
		}
	}
	if !ok {
		return "⚠️ El año debe contener exactamente 4 dígitos.\n" +
			"Ejemplo válido: 2020, 2015, 2023\n\n" +
			"Por favor, ingrese nuevamente el año:"
	}
	return ""
}

func checkSerial(v string) string {
	if len([]rune(v)) < 5 {
		return "⚠️ El número de serie parece incompleto.\n" +
			"Verifique que haya ingresado todos los caracteres.\n\n" +
			"Intente nuevamente:"
	}
	return ""
}
