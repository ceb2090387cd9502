package wire

// Method names understood by the in-page handler.
const (
	MethodPing                   = "ping"
	MethodGetTitle               = "getTitle"
	MethodGetURL                 = "getUrl"
	MethodInspectSelector        = "inspectSelector"
	MethodInspectByText          = "inspectByText"
	MethodGetInputValue          = "getInputValue"
	MethodClickSelector          = "clickSelector"
	MethodClickByText            = "clickByText"
	MethodFillSelector           = "fillSelector"
	MethodTypeText               = "typeText"
	MethodPressKey               = "pressKey"
	MethodMoveMouse              = "moveMouse"
	MethodClickMouse             = "clickMouse"
	MethodDragMouse              = "dragMouse"
	MethodGetDomSnapshot         = "getDomSnapshot"
	MethodQuerySelectorOuterHTML = "querySelectorOuterHTML"
	MethodGetAccessibleTree      = "getAccessibleTree"
	MethodGetVisibleText         = "getVisibleText"
	MethodGetViewport            = "getViewport"
	MethodGetLastDialog          = "getLastDialog"
	MethodHandleDialog           = "handleDialog"
	MethodResizeImage            = "resizeImage"
	MethodRecompressImage        = "recompressImage"
	MethodResetDialog            = "resetDialog"
)

// PingReply is the result of a successful ping.
const PingReply = "pong"

// MaxDOMReturnChars bounds every DOM read that returns markup or text.
const MaxDOMReturnChars = 20000
