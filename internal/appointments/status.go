package appointments

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusProgramada    Status = "PROGRAMADA"
	StatusConfirmada    Status = "CONFIRMADA"
	StatusEnConsulta    Status = "EN_CONSULTA"
	StatusPendientePago Status = "PENDIENTE_PAGO"
	StatusFinalizada    Status = "FINALIZADA"
	StatusCancelada     Status = "CANCELADA"
	StatusNoAsistio     Status = "NO_ASISTIO"
)

// transitions is the static allowed-transition table. Terminal states map to
// an empty set. Built once; never mutated.
var transitions = map[Status][]Status{
	StatusProgramada:    {StatusConfirmada, StatusEnConsulta, StatusCancelada, StatusNoAsistio},
	StatusConfirmada:    {StatusEnConsulta, StatusCancelada, StatusNoAsistio},
	StatusEnConsulta:    {StatusPendientePago, StatusFinalizada},
	StatusPendientePago: {StatusFinalizada},
	StatusFinalizada:    {},
	StatusCancelada:     {},
	StatusNoAsistio:     {},
}

// IsValid reports whether s is one of the enumerated statuses.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether moving from current to next is legal.
// A no-op transition (next == current) is always permitted for known states.
// Unknown states never transition anywhere.
func CanTransition(current, next Status) bool {
	allowed, ok := transitions[current]
	if !ok || !next.IsValid() {
		return false
	}
	if next == current {
		return true
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// ValidTransitions returns the statuses reachable from current.
// Empty for terminal or unknown states. The caller owns the returned slice.
func ValidTransitions(current Status) []Status {
	allowed, ok := transitions[current]
	if !ok {
		return nil
	}
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}
