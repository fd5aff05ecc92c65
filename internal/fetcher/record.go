package fetcher

import "encoding/xml"

// ContractRecord is one contract row as returned by the G2B contract
// information service. Field names mirror the provider's element names;
// amounts stay as strings until a table sink converts them, since the
// provider occasionally sends blanks where numbers belong.
type ContractRecord struct {
	XMLName             xml.Name `xml:"item" json:"-"`
	UniqueContractNo    string   `xml:"untyCntrctNo" json:"unique_contract_no"`
	BusinessDivName     string   `xml:"bsnsDivNm" json:"business_div_name"`
	ContractName        string   `xml:"cntrctNm" json:"contract_name"`
	ConclusionDate      string   `xml:"cntrctCnclsDate" json:"conclusion_date"`
	ContractPeriod      string   `xml:"cntrctPrd" json:"contract_period"`
	TotalAmount         string   `xml:"totCntrctAmt" json:"total_amount"`
	CurrentTermAmount   string   `xml:"thtmCntrctAmt" json:"current_term_amount"`
	InstitutionCode     string   `xml:"cntrctInsttCd" json:"institution_code"`
	InstitutionName     string   `xml:"cntrctInsttNm" json:"institution_name"`
	JurisdictionDivName string   `xml:"cntrctInsttJrsdctnDivNm" json:"jurisdiction_div_name"`
	ConclusionMethod    string   `xml:"cntrctCnclsMthdNm" json:"conclusion_method"`
	PayDivName          string   `xml:"payDivNm" json:"pay_div_name"`
	NoticeNo            string   `xml:"ntceNo" json:"notice_no"`
	CorpList            string   `xml:"corpList" json:"corp_list"`
	LongTermDivName     string   `xml:"lngtrmCtnuDivNm" json:"long_term_div_name"`
	CommonContractYn    string   `xml:"cmmnCntrctYn" json:"common_contract_yn"`
	RegisteredAt        string   `xml:"rgstDt" json:"registered_at"`

	// Raw preserves the item's inner XML so the file sink can append the
	// provider's bytes untouched.
	Raw string `xml:",innerxml" json:"-"`

	// Stamped by the collection loop before persistence.
	CollectedYear  int `xml:"-" json:"collected_year"`
	CollectedMonth int `xml:"-" json:"collected_month"`
}

// envelope is the provider's standard response wrapper: a result-code
// header followed by zero or more items.
type envelope struct {
	XMLName xml.Name `xml:"response"`
	Header  struct {
		ResultCode string `xml:"resultCode"`
		ResultMsg  string `xml:"resultMsg"`
	} `xml:"header"`
	Body struct {
		Items      []ContractRecord `xml:"items>item"`
		NumOfRows  int              `xml:"numOfRows"`
		PageNo     int              `xml:"pageNo"`
		TotalCount int              `xml:"totalCount"`
	} `xml:"body"`
}
