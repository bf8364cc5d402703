package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaybook = `
- name: configure web tier
  hosts: web
  become: true
  vars:
    http_port: 8080
  tasks:
    - name: install nginx
      module: apt
      params:
        name: nginx
      tags: [packages]
    - name: deploy config
      module: template
      params:
        src: templates/nginx.conf.tpl
        dest: /etc/nginx/nginx.conf
      tags: [config]
      register: nginx_conf
    - name: restart nginx
      module: service
      params:
        name: nginx
        state: restarted
      when: "{{ .nginx_conf.changed }}"
      tags: [config]

- name: verify
  hosts: all
  gather_facts: false
  tasks:
    - name: health check
      module: uri
      params:
        url: http://127.0.0.1:8080/health
      retries: 3
      delay: 2
`

func TestParsePlaybook(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	require.NoError(t, err)
	require.Len(t, pb.Plays, 2)

	web := pb.Plays[0]
	assert.Equal(t, "configure web tier", web.Name)
	assert.Equal(t, "web", web.Hosts)
	assert.True(t, web.Become)
	require.Len(t, web.Tasks, 3)
	assert.Equal(t, "apt", web.Tasks[0].Module)
	assert.Equal(t, "nginx", web.Tasks[0].Params["name"])
	assert.Equal(t, "nginx_conf", web.Tasks[1].Register)
	assert.Equal(t, 3, pb.Plays[1].Tasks[0].Retries)
}

func TestParsePlaybookErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty", ``},
		{"no hosts", "- name: p\n  tasks:\n    - {module: ping}"},
		{"no tasks", "- name: p\n  hosts: all"},
		{"no module", "- name: p\n  hosts: all\n  tasks:\n    - {name: t}"},
		{"negative retries", "- name: p\n  hosts: all\n  tasks:\n    - {module: ping, retries: -1}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.content))
			assert.Error(t, err)
		})
	}
}

func TestCompileResolvesModules(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	require.NoError(t, err)

	plan, err := Compile(pb, CompileOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Plays, 2)

	web := plan.Plays[0]
	require.Len(t, web.Tasks, 3)
	assert.Equal(t, "apt", web.Tasks[0].Module.Name())
	assert.True(t, web.GatherFacts)
	assert.False(t, plan.Plays[1].GatherFacts)
	assert.Equal(t, 5, web.Forks)
}

func TestCompileUnknownModuleFails(t *testing.T) {
	pb, err := Parse([]byte("- name: p\n  hosts: all\n  tasks:\n    - {name: t, module: nosuch}"))
	require.NoError(t, err)

	_, err = Compile(pb, CompileOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuch")
}

func TestCompileValidatesParams(t *testing.T) {
	pb, err := Parse([]byte("- name: p\n  hosts: all\n  tasks:\n    - {name: t, module: copy, params: {dest: /x}}"))
	require.NoError(t, err)

	_, err = Compile(pb, CompileOptions{})
	assert.Error(t, err)
}

func TestCompileTagFiltering(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	require.NoError(t, err)

	t.Run("tags keeps matching tasks", func(t *testing.T) {
		plan, err := Compile(pb, CompileOptions{Tags: []string{"config"}})
		require.NoError(t, err)
		require.Len(t, plan.Plays[0].Tasks, 2)
		assert.Equal(t, "deploy config", plan.Plays[0].Tasks[0].Name)
	})

	t.Run("skip-tags drops matching tasks", func(t *testing.T) {
		plan, err := Compile(pb, CompileOptions{SkipTags: []string{"packages"}})
		require.NoError(t, err)
		require.Len(t, plan.Plays[0].Tasks, 2)
	})

	t.Run("untagged tasks survive tag selection of other plays", func(t *testing.T) {
		plan, err := Compile(pb, CompileOptions{SkipTags: []string{"config"}})
		require.NoError(t, err)
		// The verify play's untagged task remains.
		require.Len(t, plan.Plays[1].Tasks, 1)
	})
}

func TestCompileForksOverride(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	require.NoError(t, err)

	plan, err := Compile(pb, CompileOptions{Forks: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, plan.Plays[0].Forks)
}

func TestTagSelected(t *testing.T) {
	assert.True(t, tagSelected(nil, nil, nil))
	assert.True(t, tagSelected([]string{"a"}, nil, nil))
	assert.False(t, tagSelected([]string{"a"}, []string{"b"}, nil))
	assert.True(t, tagSelected([]string{"a", "b"}, []string{"b"}, nil))
	assert.False(t, tagSelected([]string{"a"}, nil, []string{"a"}))
	// Skip wins even when selected.
	assert.False(t, tagSelected([]string{"a"}, []string{"a"}, []string{"a"}))
	// Untagged tasks are dropped by --tags selection.
	assert.False(t, tagSelected(nil, []string{"a"}, nil))
}
