package flow

import (
	"fmt"

	"github.com/spapperi/configurator/internal/models"
)

// Well-known phase ids. Phase ids are persisted as the conversation's
// current phase, so renaming one breaks in-flight conversations.
const (
	PhaseFirst    = "phase_1_1"
	PhaseComplete = "complete"
)

// UIHint tells the client which input widget fits a phase.
type UIHint string

const (
	UIHintText     UIHint = "text"
	UIHintRadio    UIHint = "radio"
	UIHintCheckbox UIHint = "checkbox"
)

// Field names the configuration field a phase fills.
type Field string

const (
	FieldCropType             Field = "crop_type"
	FieldRootType             Field = "root_type"
	FieldRootDimensions       Field = "root_dimensions"
	FieldRowType              Field = "row_type"
	FieldLayoutDetails        Field = "layout_details"
	FieldEnvironment          Field = "environment"
	FieldRaisedBed            Field = "is_raised_bed"
	FieldMulch                Field = "is_mulch"
	FieldSoilType             Field = "soil_type"
	FieldWheelDistance        Field = "wheel_distance"
	FieldTractorHP            Field = "tractor_hp"
	FieldAccessoriesPrimary   Field = "accessories_primary"
	FieldAccessoriesSecondary Field = "accessories_secondary"
	FieldAccessoriesElement   Field = "accessories_element"
	FieldUserNotes            Field = "user_notes"
	FieldInterested           Field = "is_interested"
	FieldContactInfo          Field = "contact_info"
)

// NoneOption is the accessory label that excludes every other selection.
const NoneOption = "Nessuno"

// RootDimensionsImage illustrates the A, B, C, D root measurements.
const RootDimensionsImage = "/api/images/configurator/size.png"

// Layout prompts depend on whether rows are single or twin.
const (
	singleRowPrompt = "Inserisci il numero di file, l'interfila (IF) in cm e l'interpianta (IP) in cm."
	twinRowPrompt   = "Inserisci il numero di bine, l'interfila (IF) in cm, l'interpianta (IP) in cm e l'interbina (IB) in cm."
	singleRowFormat = "3 valori: numero file, IF (cm), IP (cm)"
	twinRowFormat   = "4 valori: numero bine, IF (cm), IP (cm), IB (cm)"
)

// Phase describes one question of the guided flow.
type Phase struct {
	ID       string
	Prompt   Text
	Format   Text
	Field    Field
	UIHint   UIHint
	Options  []string
	ImageRef string
	// Next is the default next phase; PhaseComplete ends the flow.
	Next string
}

var phaseTable = []Phase{
	{
		ID:     "phase_1_1",
		Prompt: Static("Per iniziare, potresti indicarmi cosa devi trapiantare?"),
		Format: Static("Testo libero: nome della coltura (es: pomodori, insalata, fragole)"),
		Field:  FieldCropType,
		UIHint: UIHintText,
		Next:   "phase_1_2",
	},
	{
		ID:      "phase_1_2",
		Prompt:  Static("Perfetto. Qual è la caratteristica della radice?"),
		Format:  Static("Tipo di radice (es: Radice Nuda, Zolla Cubica, Zolla Conica, Zolla Piramidale)"),
		Field:   FieldRootType,
		UIHint:  UIHintRadio,
		Options: []string{"Radice Nuda", "Zolla Cubica", "Zolla Conica", "Zolla Piramidale"},
		Next:    "phase_1_3",
	},
	{
		ID:       "phase_1_3",
		Prompt:   Static("Ho bisogno delle dimensioni della zolla/radice (A, B, C, D). Elenca le misure per A, B, C e D in cm."),
		Format:   Static("4 valori numerici per A, B, C, D in centimetri"),
		Field:    FieldRootDimensions,
		UIHint:   UIHintText,
		ImageRef: RootDimensionsImage,
		Next:     "phase_2_1",
	},
	{
		ID:      "phase_2_1",
		Prompt:  Static("Passiamo al sesto di impianto. Si tratta di file singole o file binate?"),
		Format:  Static("Scelta: Singole o Binate"),
		Field:   FieldRowType,
		UIHint:  UIHintRadio,
		Options: []string{RowTypeSingle, RowTypeTwin},
		Next:    "phase_2_2",
	},
	{
		ID: "phase_2_2",
		Prompt: Conditional(func(data models.ConfigurationData) string {
			if IsSingleRow(data.RowType) {
				return singleRowPrompt
			}
			return twinRowPrompt
		}),
		Format: Conditional(func(data models.ConfigurationData) string {
			if IsSingleRow(data.RowType) {
				return singleRowFormat
			}
			return twinRowFormat
		}),
		Field:  FieldLayoutDetails,
		UIHint: UIHintText,
		Next:   "phase_3_1",
	},
	{
		ID:     "phase_3_1",
		Prompt: Static("Il trapianto avverrà in campo aperto o sotto serra?"),
		Format: Static("Campo aperto o Serra"),
		Field:  FieldEnvironment,
		UIHint: UIHintText,
		Next:   "phase_3_2",
	},
	{
		ID:     "phase_3_2",
		Prompt: Static("Il trapianto viene effettuato su baula?"),
		Format: Static("Sì o No. Se Sì, specificare Altezza baula (AT), Larghezza (LT), Inter baula (IT) e Spazio tra baule (ST) in cm."),
		Field:  FieldRaisedBed,
		UIHint: UIHintText,
		Next:   "phase_3_3",
	},
	{
		ID:     "phase_3_3",
		Prompt: Static("Il trapianto viene effettuato sopra pacciamatura?"),
		Format: Static("Sì o No. Se Sì, specificare Larghezza telo (LP) in cm."),
		Field:  FieldMulch,
		UIHint: UIHintText,
		Next:   "phase_3_4",
	},
	{
		ID:      "phase_3_4",
		Prompt:  Static("Invece qual è la tipologia del terreno?"),
		Format:  Static("Scelta tra Argilloso o Sabbioso"),
		Field:   FieldSoilType,
		UIHint:  UIHintRadio,
		Options: []string{"Argilloso / Tenace", "Sabbioso / Leggero"},
		Next:    "phase_4_1",
	},
	{
		ID:     "phase_4_1",
		Prompt: Static("Dammi qualche info sul trattore. Qual è la misura interna delle ruote in cm?"),
		Format: Static("Valore numerico in centimetri"),
		Field:  FieldWheelDistance,
		UIHint: UIHintText,
		Next:   "phase_4_2",
	},
	{
		ID:     "phase_4_2",
		Prompt: Static("Quanti cavalli (HP) ha il trattore?"),
		Format: Static("Valore numerico (HP)"),
		Field:  FieldTractorHP,
		UIHint: UIHintText,
		Next:   "phase_5_1",
	},
	{
		ID:     "phase_5_1",
		Prompt: Static("Seleziona gli accessori primari di telaio necessari:"),
		Format: Static("Lista di accessori scelti (anche vuota)"),
		Field:  FieldAccessoriesPrimary,
		UIHint: UIHintCheckbox,
		Options: []string{
			NoneOption,
			"Spandiconcime",
			"Innaffiamento localizzato",
			"Innaffiamento in continuo",
			"Stendi Manichetta",
			"Ripiani Porta Alveoli",
			"Ripiani supplementari",
		},
		Next: "phase_5_2",
	},
	{
		ID:     "phase_5_2",
		Prompt: Static("Seleziona gli accessori secondari di telaio:"),
		Format: Static("Lista di accessori scelti (anche vuota)"),
		Field:  FieldAccessoriesSecondary,
		UIHint: UIHintCheckbox,
		Options: []string{
			NoneOption,
			"Separatore di zolle",
			"Tracciatori fila manuali",
			"Tracciatori fila idraulici",
		},
		Next: "phase_5_3",
	},
	{
		ID:     "phase_5_3",
		Prompt: Static("Infine, seleziona gli accessori di elemento:"),
		Format: Static("Lista di accessori scelti (anche vuota)"),
		Field:  FieldAccessoriesElement,
		UIHint: UIHintCheckbox,
		Options: []string{
			NoneOption,
			"Microgranulatore",
			"Posa/interra ala gocciolante",
			"Coltello appisolo",
			"Rullo in gomma",
		},
		Next: "phase_6_1",
	},
	{
		ID:     "phase_6_1",
		Prompt: Static("Hai delle note o richieste particolari da aggiungere?"),
		Format: Static("Testo libero (o 'No' se non ci sono note)"),
		Field:  FieldUserNotes,
		UIHint: UIHintText,
		Next:   "phase_6_2",
	},
	{
		ID:      "phase_6_2",
		Prompt:  Static("Sulla base di questi dati, sei interessato a ricevere informazioni commerciali o un preventivo?"),
		Format:  Static("Sì o No"),
		Field:   FieldInterested,
		UIHint:  UIHintRadio,
		Options: []string{"Sì", "No"},
		Next:    "phase_6_3",
	},
	{
		ID:     "phase_6_3",
		Prompt: Static("Perfetto. Lasciami la tua Partita IVA e la tua Email per ricontattarti con il report pronto."),
		Format: Static("Partita IVA ed Email"),
		Field:  FieldContactInfo,
		UIHint: UIHintText,
		Next:   PhaseComplete,
	},
}

var phaseIndex = buildPhaseIndex(phaseTable)

func buildPhaseIndex(phases []Phase) map[string]int {
	index := make(map[string]int, len(phases))
	for i, p := range phases {
		if _, dup := index[p.ID]; dup {
			panic(fmt.Sprintf("flow: duplicate phase id %q", p.ID))
		}
		index[p.ID] = i
	}
	return index
}

// Lookup returns the phase with the given id. The terminal marker is not a
// phase and yields ErrUnknownPhase like any other unknown id.
func Lookup(id string) (Phase, error) {
	i, ok := phaseIndex[id]
	if !ok {
		return Phase{}, fmt.Errorf("%w: %q", ErrUnknownPhase, id)
	}
	return clonePhase(phaseTable[i]), nil
}

// Phases returns the catalog in flow order.
func Phases() []Phase {
	out := make([]Phase, len(phaseTable))
	for i, p := range phaseTable {
		out[i] = clonePhase(p)
	}
	return out
}

// IsKnownPhase reports whether id is a catalog phase or the terminal marker.
func IsKnownPhase(id string) bool {
	if id == PhaseComplete {
		return true
	}
	_, ok := phaseIndex[id]
	return ok
}

// optionsFor returns the option labels of the phase filling field.
func optionsFor(field Field) []string {
	for _, p := range phaseTable {
		if p.Field == field {
			return p.Options
		}
	}
	return nil
}

func clonePhase(p Phase) Phase {
	if p.Options != nil {
		p.Options = append([]string(nil), p.Options...)
	}
	return p
}
