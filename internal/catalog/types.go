package catalog

// Course is the metadata of one course loaded from YAML.
type Course struct {
	ID      string   `yaml:"id" json:"id"`
	Title   string   `yaml:"title" json:"title"`
	Modules []Module `yaml:"modules" json:"modules"`
}

// Module is one module of a course.
type Module struct {
	Title string `yaml:"title" json:"title"`
	Quiz  bool   `yaml:"quiz" json:"quiz"`
}

// TotalModules returns the number of modules in the course.
func (c Course) TotalModules() int {
	return len(c.Modules)
}
