package types

// Platform identifies which introspection interface discovery should use.
type Platform string

const (
	PlatformCompose    Platform = "compose"
	PlatformKubernetes Platform = "kubernetes"
)

// InputField declares one user-supplied field of a profile. Only fields
// declared here may ever reach the credential file.
type InputField struct {
	ID       string `yaml:"id" json:"id"`
	EnvVar   string `yaml:"env_var" json:"env_var"`
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required" json:"required"`
	Secret   bool   `yaml:"secret" json:"secret"`
}

// ServiceLink declares one backend service a profile exposes. Service and
// Port locate the live endpoint on the target platform; PathPrefix becomes
// the route pattern; URLTemplate may reference ${HOST_IP} and ${BASE_DOMAIN}.
type ServiceLink struct {
	Name        string `yaml:"name" json:"name"`
	Service     string `yaml:"service" json:"service"` // container or k8s Service name
	Port        int    `yaml:"port" json:"port"`
	PathPrefix  string `yaml:"path_prefix" json:"path_prefix"`
	URLTemplate string `yaml:"url_template" json:"url_template"`
}

// Profile is a named, declarative description of one deployable target.
// Profiles are immutable once loaded; a deploy captures a snapshot.
type Profile struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Platform    Platform `yaml:"platform" json:"platform"`
	Namespace   string   `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	PrefixToken string   `yaml:"prefix_token" json:"prefix_token"`
	WorkDir     string   `yaml:"work_dir,omitempty" json:"-"`
	Versions    []string `yaml:"versions,omitempty" json:"versions,omitempty"`

	PreCommands       [][]string `yaml:"pre_commands,omitempty" json:"-"`
	Command           []string   `yaml:"command" json:"-"`
	PostCommands      [][]string `yaml:"post_commands,omitempty" json:"-"`
	UninstallCommands [][]string `yaml:"uninstall_commands,omitempty" json:"-"`

	Inputs   []InputField  `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Services []ServiceLink `yaml:"services,omitempty" json:"services,omitempty"`
}

// HasUninstall reports whether the profile declares a teardown sequence.
func (p *Profile) HasUninstall() bool {
	return len(p.UninstallCommands) > 0
}

// Field returns the input field with the given id.
func (p *Profile) Field(id string) (InputField, bool) {
	for _, f := range p.Inputs {
		if f.ID == id {
			return f, true
		}
	}
	return InputField{}, false
}

// DeploySequence returns the ordered command vectors a deploy runs.
func (p *Profile) DeploySequence() [][]string {
	seq := make([][]string, 0, len(p.PreCommands)+1+len(p.PostCommands))
	seq = append(seq, p.PreCommands...)
	seq = append(seq, p.Command)
	seq = append(seq, p.PostCommands...)
	return seq
}

// HasVersion reports whether v is one of the profile's declared versions.
func (p *Profile) HasVersion(v string) bool {
	for _, candidate := range p.Versions {
		if candidate == v {
			return true
		}
	}
	return false
}
