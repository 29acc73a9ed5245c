package notify

import (
	"fmt"
	"time"

	"github.com/vitalmed/clinic-agenda/internal/schedule"
)

// ReminderInfo carries the appointment context a reminder email needs.
type ReminderInfo struct {
	PatientName  string
	PatientEmail string
	DoctorName   string
	ClinicName   string
	Date         time.Time
	StartMins    int
	Reason       string
}

// ReminderEmail builds the patient-facing appointment reminder message.
func ReminderEmail(info ReminderInfo) EmailMessage {
	if info.ClinicName == "" {
		info.ClinicName = "VitalMed"
	}
	day := info.Date.Format("Monday, January 2")
	hour := schedule.FormatTimeOfDay(info.StartMins)

	subject := fmt.Sprintf("Recordatorio de cita - %s a las %s", day, hour)

	reasonLine := ""
	if info.Reason != "" {
		reasonLine = fmt.Sprintf("\nMotivo: %s", info.Reason)
	}
	body := fmt.Sprintf(`Hola %s,

Le recordamos su cita con %s.

Fecha: %s
Hora: %s%s

Si no puede asistir, por favor comuníquese con la clínica para reprogramar.

— %s`, info.PatientName, info.DoctorName, day, hour, reasonLine, info.ClinicName)

	reasonRow := ""
	if info.Reason != "" {
		reasonRow = fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Motivo:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`, info.Reason)
	}
	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #2563eb;">Recordatorio de cita</h2>
<p>Hola <strong>%s</strong>, le recordamos su cita con <strong>%s</strong>.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Fecha:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Hora:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  %s
</table>
<p>Si no puede asistir, por favor comuníquese con la clínica para reprogramar.</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— %s</p>
</div>`, info.PatientName, info.DoctorName, day, hour, reasonRow, info.ClinicName)

	return EmailMessage{
		To:      info.PatientEmail,
		ToName:  info.PatientName,
		Subject: subject,
		Body:    body,
		HTML:    html,
	}
}
