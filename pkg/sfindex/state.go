package sfindex

// State is a step of the pipeline. A run moves through the states in
// declaration order; filter runs stop after FilterAndExit.
type State int32

const (
	Init State = iota
	ResolveSurfaceForms
	FilterAndExit
	OpenIndex
	LoadLanguageLinks
	StreamEntities
	Finalize
	Done
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case ResolveSurfaceForms:
		return "resolve_surface_forms"
	case FilterAndExit:
		return "filter_and_exit"
	case OpenIndex:
		return "open_index"
	case LoadLanguageLinks:
		return "load_language_links"
	case StreamEntities:
		return "stream_entities"
	case Finalize:
		return "finalize"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
