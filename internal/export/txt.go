// Package export renders conversation reports.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spapperi/configurator/internal/models"
)

const (
	notAvailable = "N/A"
	ruleWidth    = 80
)

// Snapshot is everything a report is built from.
type Snapshot struct {
	Conversation  models.Conversation       `yaml:"conversation"`
	Configuration *models.ConfigurationData `yaml:"configuration"`
	Messages      []models.Message          `yaml:"-"`
	GeneratedAt   time.Time                 `yaml:"generated_at"`
}

// RenderTXT renders the human-readable Italian report.
func RenderTXT(s Snapshot) string {
	heavy := strings.Repeat("=", ruleWidth)
	light := strings.Repeat("-", ruleWidth)
	var lines []string
	add := func(l ...string) { lines = append(lines, l...) }

	add(heavy, "REPORT CONFIGURAZIONE TRAPIANTATRICE SPAPPERI", heavy, "")
	add("Data generazione: "+s.GeneratedAt.Format("02/01/2006 15:04"),
		"Conversation ID: "+s.Conversation.ID,
		"Status: "+string(s.Conversation.Status),
		"", heavy, "")

	add("STORICO CONVERSAZIONE", light, "")
	for _, m := range s.Messages {
		ts := m.CreatedAt.Format("15:04:05")
		switch m.Role {
		case models.RoleUser:
			add(fmt.Sprintf("[%s] UTENTE:", ts), "  "+m.Content)
		case models.RoleAssistant:
			add(fmt.Sprintf("[%s] ASSISTENTE:", ts), "  "+m.Content)
		default:
			continue
		}
		if m.ImageURL != "" {
			add("  [Immagine allegata: " + m.ImageURL + "]")
		}
		add("")
	}
	add("", heavy, "")

	add("DATI CONFIGURAZIONE RACCOLTI", light, "")
	if s.Configuration != nil {
		add(formatConfiguration(s.Configuration)...)
	} else {
		add("Nessun dato configurazione disponibile.")
	}
	add("", heavy, "")

	if c := s.Configuration; c != nil && (c.ContactEmail != nil || c.VATNumber != nil) {
		add("INFORMAZIONI DI CONTATTO", light, "",
			"Email: "+str(c.ContactEmail),
			"Partita IVA: "+str(c.VATNumber),
			"", heavy, "")
	}

	add("Grazie per aver utilizzato il configuratore Spapperi.")
	if c := s.Configuration; c != nil && c.IsInterested != nil && *c.IsInterested {
		add("Sarai ricontattato al più presto dal nostro team commerciale.")
	}
	add("")
	return strings.Join(lines, "\n")
}

func formatConfiguration(c *models.ConfigurationData) []string {
	var lines []string
	add := func(l ...string) { lines = append(lines, l...) }

	add("FASE 1: Caratteristiche della Pianta", "",
		"  Coltura: "+str(c.CropType),
		"  Tipo radice: "+str(c.RootType))
	if d := c.RootDimensions; d != nil {
		add("  Dimensioni radice:",
			"    A = "+num(d.A)+" cm",
			"    B = "+num(d.B)+" cm",
			"    C = "+num(d.C)+" cm",
			"    D = "+num(d.D)+" cm")
	}
	add("")

	add("FASE 2: Sesto di Impianto", "", "  Tipologia: "+str(c.RowType))
	if l := c.LayoutDetails; l != nil {
		rows := notAvailable
		if l.NumberOfRows != nil {
			rows = strconv.Itoa(*l.NumberOfRows)
		}
		add("  Numero file/bine: "+rows,
			"  Interfila (IF): "+num(l.IF)+" cm",
			"  Interpianta (IP): "+num(l.IP)+" cm")
		if l.IB != nil {
			add("  Interbina (IB): " + num(l.IB) + " cm")
		}
	}
	add("")

	add("FASE 3: Trapianto e Terreno", "",
		"  Ambiente: "+str(c.Environment),
		"  Su baula: "+yesNo(c.IsRaisedBed))
	if b := c.RaisedBedDetails; b != nil && isTrue(c.IsRaisedBed) {
		add("    Altezza (AT): "+num(b.AT)+" cm",
			"    Larghezza (LT): "+num(b.LT)+" cm",
			"    Inter baula (IT): "+num(b.IT)+" cm",
			"    Spazio tra baule (ST): "+num(b.ST)+" cm")
	}
	add("  Con pacciamatura: " + yesNo(c.IsMulch))
	if m := c.MulchDetails; m != nil && isTrue(c.IsMulch) {
		add("    Larghezza telo (LP): " + num(m.LP) + " cm")
	}
	add("  Tipo terreno: "+str(c.SoilType), "")

	hp := notAvailable
	if c.TractorHP != nil {
		hp = strconv.Itoa(*c.TractorHP)
	}
	add("FASE 4: Macchinario (Trattore)", "",
		"  Ruote interne: "+num(c.WheelDistance)+" cm",
		"  Potenza: "+hp+" HP", "")

	add("FASE 5: Accessori", "",
		"  Accessori primari telaio: "+list(c.AccessoriesPrimary),
		"  Accessori secondari:       "+list(c.AccessoriesSecondary),
		"  Accessori di elemento:     "+list(c.AccessoriesElement), "")

	if c.UserNotes != nil && *c.UserNotes != "" {
		add("FASE 6: Note Aggiuntive", "", "  "+*c.UserNotes, "")
	}
	return lines
}

func str(s *string) string {
	if s == nil || *s == "" {
		return notAvailable
	}
	return *s
}

func num(f *float64) string {
	if f == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func yesNo(b *bool) string {
	if isTrue(b) {
		return "Sì"
	}
	return "No"
}

func list(items []string) string {
	if len(items) == 0 {
		return "Nessuno"
	}
	return strings.Join(items, ", ")
}
