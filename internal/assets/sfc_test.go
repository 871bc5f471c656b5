package assets

import (
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appComponent = `<template>
  <v-app>
    <v-btn color="primary" @click="count++">Clicked {{ count }}</v-btn>
    <template v-if="count > 2"><span>Lots</span></template>
  </v-app>
</template>

<script>
export default {
  data() { return { count: 0 }; },
};
</script>

<style lang="sass">
.v-btn
  margin: 0 auto
</style>

<style>
span { color: red; }
</style>

<i18n>{"en": {}}</i18n>
`

func TestParseSFC(t *testing.T) {
	desc, err := parseSFC([]byte(appComponent))
	require.NoError(t, err)

	require.NotNil(t, desc.Template)
	assert.Contains(t, desc.Template.Content, `<v-btn color="primary" @click="count++">`)
	assert.Contains(t, desc.Template.Content, `<template v-if="count > 2"><span>Lots</span></template>`)

	require.NotNil(t, desc.Script)
	assert.Equal(t, "js", desc.Script.lang(defaultScript))
	assert.Contains(t, desc.Script.Content, "data() { return { count: 0 }; },")

	require.Len(t, desc.Styles, 2)
	assert.Equal(t, "sass", desc.Styles[0].lang(defaultStyle))
	assert.Equal(t, "\n.v-btn\n  margin: 0 auto\n", desc.Styles[0].Content)
	assert.Equal(t, "css", desc.Styles[1].lang(defaultStyle))
}

func TestParseSFC_errors(t *testing.T) {
	_, err := parseSFC([]byte("<template><div></div>"))
	require.ErrorContains(t, err, "unclosed <template> block")

	_, err = parseSFC([]byte("<script></script><script></script>"))
	require.ErrorContains(t, err, "more than one <script> block")
}

func TestTemplateTags(t *testing.T) {
	tags := templateTags(`<v-app><v-btn>a</v-btn><v-btn-toggle/><div></div></v-app>`)
	require.Equal(t, []string{"div", "v-app", "v-btn", "v-btn-toggle"}, tags)
}

func TestPascalCase(t *testing.T) {
	require.Equal(t, "VBtn", pascalCase("v-btn"))
	require.Equal(t, "VBtnToggle", pascalCase("v-btn-toggle"))
	require.Equal(t, "VApp", pascalCase("v--app"))
}

func TestVueTransform(t *testing.T) {
	vuetify, err := newVuetifyPlugin(nil)
	require.NoError(t, err)

	env := &buildEnv{descriptor: DefaultDescriptor("/project")}
	vuetify.(setupPlugin).Setup(env)

	tr, err := newVueTransform(map[string]any{"exposeFilename": true})
	require.NoError(t, err)

	a := &Asset{Path: "/project/src/App.vue", Contents: []byte(appComponent)}
	require.NoError(t, tr.Apply(env, a))
	require.Equal(t, api.LoaderJS, a.Loader)

	code := string(a.Contents)
	assert.Contains(t, code, `import __sfc__ from "./App.vue?vue&type=script&lang=js";`)
	assert.Contains(t, code, `import "./App.vue?vue&type=style&index=0&lang=sass";`)
	assert.Contains(t, code, `import "./App.vue?vue&type=style&index=1&lang=css";`)
	assert.Contains(t, code, `import { VApp, VBtn } from "vuetify/lib";`)
	assert.Contains(t, code, `__sfc__.components = Object.assign({ VApp, VBtn }, __sfc__.components);`)
	assert.Contains(t, code, `__sfc__.__file = "src/App.vue";`)
	assert.Contains(t, code, `__sfc__.template = "<v-app>`)
	assert.Contains(t, code, "export default __sfc__;")
}

func TestVueTransform_templateOnly(t *testing.T) {
	tr, err := newVueTransform(nil)
	require.NoError(t, err)

	a := &Asset{Path: "/project/src/Hello.vue", Contents: []byte("<template><p>hi</p></template>")}
	require.NoError(t, tr.Apply(&buildEnv{descriptor: DefaultDescriptor("/project")}, a))

	code := string(a.Contents)
	assert.Contains(t, code, "const __sfc__ = {};")
	assert.NotContains(t, code, "type=script")
	assert.NotContains(t, code, "__file")
}

func TestBlockRequest(t *testing.T) {
	require.Equal(t, "./App.vue?vue&type=script&lang=ts", blockRequest("/src/App.vue", blockScript, 0, "ts"))
	require.Equal(t, "./App.vue?vue&type=style&index=2&lang=scss", blockRequest("/src/App.vue", blockStyle, 2, "scss"))
}
