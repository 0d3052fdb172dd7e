package anki

// Card templates for the two note types. Kept inline rather than as
// separate asset files; AnkiConnect only needs the strings once, at
// model creation.

const basicCSS = `.card {
  font-family: -apple-system, "Segoe UI", sans-serif;
  font-size: 20px;
  text-align: center;
  color: #2e3440;
  background-color: #eceff4;
}
.source {
  margin-top: 2em;
  font-size: 14px;
  font-style: italic;
  color: #4c566a;
}
.pattern {
  font-size: 12px;
  letter-spacing: 1px;
  color: #5e81ac;
}`

const basicFrontTemplate = `<div class="pattern">{{pattern}}</div>
<div>{{front}}</div>`

const basicBackTemplate = `{{FrontSide}}
<hr id="answer">
<div>{{back}}</div>
<div class="source">{{book_title}} — {{author}}</div>`

const clozeCSS = basicCSS + `
.cloze {
  font-weight: bold;
  color: #bf616a;
}`

const clozeFrontTemplate = `<div class="pattern">{{pattern}}</div>
<div>{{cloze:front}}</div>`

const clozeBackTemplate = `<div class="pattern">{{pattern}}</div>
<div>{{cloze:front}}</div>
<hr id="answer">
<div>{{back}}</div>
<div class="source">{{book_title}} — {{author}}</div>`
