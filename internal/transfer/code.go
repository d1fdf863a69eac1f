package transfer

import "strconv"

// Code is the result of an easy handle operation. Values match the numbering of the
// classic transfer library result codes so they can be compared with external tooling.
type Code int

const (
	CodeOK                     Code = 0
	CodeUnsupportedProtocol    Code = 1
	CodeFailedInit             Code = 2
	CodeURLMalformat           Code = 3
	CodeCouldntResolveProxy    Code = 5
	CodeCouldntResolveHost     Code = 6
	CodeCouldntConnect         Code = 7
	CodeWeirdServerReply       Code = 8
	CodeHTTPReturnedError      Code = 22
	CodeWriteError             Code = 23
	CodeReadError              Code = 26
	CodeOutOfMemory            Code = 27
	CodeOperationTimedout      Code = 28
	CodeRangeError             Code = 33
	CodeSSLConnectError        Code = 35
	CodeAbortedByCallback      Code = 42
	CodeBadFunctionArgument    Code = 43
	CodeTooManyRedirects       Code = 47
	CodeUnknownOption          Code = 48
	CodeGotNothing             Code = 52
	CodeSendError              Code = 55
	CodeRecvError              Code = 56
	CodePeerFailedVerification Code = 60
	CodeFilesizeExceeded       Code = 63
	CodeLoginDenied            Code = 67
)

var codeText = map[Code]string{
	CodeOK:                     "No error",
	CodeUnsupportedProtocol:    "Unsupported protocol",
	CodeFailedInit:             "Failed initialization",
	CodeURLMalformat:           "URL using bad/illegal format or missing URL",
	CodeCouldntResolveProxy:    "Could not resolve proxy name",
	CodeCouldntResolveHost:     "Could not resolve host name",
	CodeCouldntConnect:         "Could not connect to server",
	CodeWeirdServerReply:       "Weird server reply",
	CodeHTTPReturnedError:      "HTTP response code said error",
	CodeWriteError:             "Failed writing received data to disk/application",
	CodeReadError:              "Failed to open/read local data from file/application",
	CodeOutOfMemory:            "Out of memory",
	CodeOperationTimedout:      "Timeout was reached",
	CodeRangeError:             "Requested range was not delivered by the server",
	CodeSSLConnectError:        "SSL connect error",
	CodeAbortedByCallback:      "Operation was aborted by an application callback",
	CodeBadFunctionArgument:    "A function was given a bad argument",
	CodeTooManyRedirects:       "Number of redirects hit maximum amount",
	CodeUnknownOption:          "An unknown option was passed in",
	CodeGotNothing:             "Server returned nothing (no headers, no data)",
	CodeSendError:              "Failed sending data to the peer",
	CodeRecvError:              "Failure when receiving data from the peer",
	CodePeerFailedVerification: "SSL peer certificate or SSH remote key was not OK",
	CodeFilesizeExceeded:       "Maximum file size exceeded",
	CodeLoginDenied:            "Login denied",
}

// String returns the human-readable description of the code.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}

	return "Unknown error " + strconv.Itoa(int(c))
}

// Error lets a bare Code be used as an errors.Is target.
func (c Code) Error() string {
	return c.String()
}

// MultiCode is the result of a multi handle operation.
type MultiCode int

const (
	MultiCallMultiPerform    MultiCode = -1
	MultiOK                  MultiCode = 0
	MultiBadHandle           MultiCode = 1
	MultiBadEasyHandle       MultiCode = 2
	MultiOutOfMemory         MultiCode = 3
	MultiInternalError       MultiCode = 4
	MultiBadSocket           MultiCode = 5
	MultiUnknownOption       MultiCode = 6
	MultiAddedAlready        MultiCode = 7
	MultiRecursiveAPICall    MultiCode = 8
	MultiWakeupFailure       MultiCode = 9
	MultiBadFunctionArgument MultiCode = 10
	MultiAbortedByCallback   MultiCode = 11
)

var multiCodeText = map[MultiCode]string{
	MultiCallMultiPerform:    "Please call Perform() soon",
	MultiOK:                  "No error",
	MultiBadHandle:           "Invalid multi handle",
	MultiBadEasyHandle:       "Invalid easy handle",
	MultiOutOfMemory:         "Out of memory",
	MultiInternalError:       "Internal error",
	MultiBadSocket:           "Invalid socket argument",
	MultiUnknownOption:       "Unknown option",
	MultiAddedAlready:        "The easy handle is already added to a multi handle",
	MultiRecursiveAPICall:    "API function called from within callback",
	MultiWakeupFailure:       "Wakeup is unavailable or failed",
	MultiBadFunctionArgument: "A function was given a bad argument",
	MultiAbortedByCallback:   "Operation was aborted by an application callback",
}

// String returns the human-readable description of the code.
func (c MultiCode) String() string {
	if s, ok := multiCodeText[c]; ok {
		return s
	}

	return "Unknown error " + strconv.Itoa(int(c))
}

func (c MultiCode) Error() string {
	return c.String()
}
