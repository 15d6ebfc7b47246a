// internal/browser/postform.go
package browser

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RenderPostForm builds a minimal HTML document containing a hidden form
// targeting action with the given URL-encoded body, plus a script that
// submits it immediately. Navigating a tab to this document (as a data: URL)
// is how a POST is performed through the browser, cookies and challenge
// handling included.
func RenderPostForm(action, postData string) (string, error) {
	values, err := url.ParseQuery(postData)
	if err != nil {
		return "", fmt.Errorf("failed to parse post data: %w", err)
	}

	form := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Form,
		Data:     "form",
		Attr: []html.Attribute{
			{Key: "method", Val: "POST"},
			{Key: "action", Val: action},
		},
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		// A literal submit control would shadow form.submit().
		if key == "submit" {
			continue
		}
		for _, value := range values[key] {
			form.AppendChild(&html.Node{
				Type:     html.ElementNode,
				DataAtom: atom.Input,
				Data:     "input",
				Attr: []html.Attribute{
					{Key: "type", Val: "hidden"},
					{Key: "name", Val: key},
					{Key: "value", Val: value},
				},
			})
		}
	}

	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
	}
	script.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: "document.forms[0].submit();",
	})

	body := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Body,
		Data:     "body",
	}
	body.AppendChild(form)
	body.AppendChild(script)

	root := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Html,
		Data:     "html",
	}
	root.AppendChild(body)

	var sb strings.Builder
	if err := html.Render(&sb, root); err != nil {
		return "", fmt.Errorf("failed to render post form: %w", err)
	}
	return sb.String(), nil
}

// PostFormDataURL renders the self-submitting form as a data: URL a tab can
// navigate to.
func PostFormDataURL(action, postData string) (string, error) {
	doc, err := RenderPostForm(action, postData)
	if err != nil {
		return "", err
	}
	return "data:text/html;charset=utf-8," + url.PathEscape(doc), nil
}
