package routes

type Tag string

const (
	TagGeneral   Tag = "General"
	TagCallbacks Tag = "Callbacks"
	TagWorkItems Tag = "Work Items"
)

func (t Tag) String() string {
	return string(t)
}
